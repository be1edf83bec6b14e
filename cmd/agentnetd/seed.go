package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentnet/kernel/common/crypto"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

// seedEntry is one agent's starting configuration in a bootstrap file,
// mirroring the teacher's gosuto.yaml templates: a named starting point an
// operator hands the kernel instead of minting agents one flag at a time.
type seedEntry struct {
	Name         string       `yaml:"name"`
	Personality  string       `yaml:"personality"`
	Specialty    string       `yaml:"specialty"`
	Model        string       `yaml:"model"`
	FastModel    string       `yaml:"fastModel"`
	Goals        []model.Goal `yaml:"goals"`
	EnabledTools []string     `yaml:"enabledTools"`
}

type seedFile struct {
	Agents []seedEntry `yaml:"agents"`
}

// seedCmd bootstraps a fresh deployment from a YAML file of agent
// definitions, calling the same Mint+Set path POST /agents uses rather than
// standing up the gateway just to hit it over HTTP. A single agent can also
// be minted ad hoc via flags when a whole file is overkill.
func seedCmd() *cobra.Command {
	var file, name, personality, specialty, model_ string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Mint agents from a YAML bootstrap file or a single --name",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entries, err := resolveSeedEntries(file, name, personality, specialty, model_)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer st.Close()

			masterKey, err := crypto.LoadMasterKey()
			if err != nil {
				return fmt.Errorf("seed: load master key: %w", err)
			}

			idSvc := identity.New(st, masterKey)
			cfgSvc := config.New(st)

			for _, e := range entries {
				did, err := seedOne(ctx, idSvc, cfgSvc, e)
				if err != nil {
					return fmt.Errorf("seed %q: %w", e.Name, err)
				}
				fmt.Printf("minted %s: did=%s\n", e.Name, did)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a YAML bootstrap file (list of agents)")
	cmd.Flags().StringVar(&name, "name", "", "agent name, for minting a single agent without --file")
	cmd.Flags().StringVar(&personality, "personality", "", "agent personality")
	cmd.Flags().StringVar(&specialty, "specialty", "", "agent specialty")
	cmd.Flags().StringVar(&model_, "model", "", "model identifier override")
	return cmd
}

func resolveSeedEntries(file, name, personality, specialty, model_ string) ([]seedEntry, error) {
	if file != "" {
		if name != "" {
			return nil, fmt.Errorf("--file and --name are mutually exclusive")
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		var sf seedFile
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if len(sf.Agents) == 0 {
			return nil, fmt.Errorf("%s: no agents listed", file)
		}
		return sf.Agents, nil
	}
	if name == "" {
		return nil, fmt.Errorf("either --file or --name is required")
	}
	return []seedEntry{{Name: name, Personality: personality, Specialty: specialty, Model: model_}}, nil
}

func seedOne(ctx context.Context, idSvc *identity.Service, cfgSvc *config.Service, e seedEntry) (string, error) {
	if e.Name == "" {
		return "", fmt.Errorf("agent entry missing name")
	}
	ident, err := idSvc.Mint(ctx, e.Name)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}

	cfg := model.AgentConfig{
		Name:         e.Name,
		Personality:  e.Personality,
		Specialty:    e.Specialty,
		Model:        e.Model,
		FastModel:    e.FastModel,
		Goals:        e.Goals,
		EnabledTools: e.EnabledTools,
	}.Defaulted()
	cfg.ClampLoopInterval()

	if _, err := cfgSvc.Set(ctx, ident.DID, cfg); err != nil {
		return "", fmt.Errorf("set config: %w", err)
	}
	return ident.DID, nil
}
