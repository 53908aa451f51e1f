package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"calsync/src/models"
)

// SeedFile describes hubs and the communities feeding them.
type SeedFile struct {
	Hubs []SeedHub `yaml:"hubs"`
}

type SeedHub struct {
	models.Hub `yaml:",inline"`

	Communities []models.Community `yaml:"communities"`
}

// LoadSeedFile parses a YAML seed file from disk.
func LoadSeedFile(path string) (SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return SeedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	for i, hub := range seed.Hubs {
		if strings.TrimSpace(hub.Name) == "" {
			return SeedFile{}, fmt.Errorf("hub %d: name is required", i)
		}
		for j, c := range hub.Communities {
			if strings.TrimSpace(c.Name) == "" {
				return SeedFile{}, fmt.Errorf("hub %q community %d: name is required", hub.Name, j)
			}
		}
	}
	return seed, nil
}

type seedWriter interface {
	UpsertHub(ctx context.Context, hub models.Hub) (string, error)
	UpsertCommunity(ctx context.Context, c models.Community) (string, error)
	LinkCommunity(ctx context.Context, hubID, communityID string) error
}

// ApplySeed upserts every hub and community and links them. It is safe to
// run on every start.
func ApplySeed(ctx context.Context, repo seedWriter, seed SeedFile) error {
	for _, hub := range seed.Hubs {
		hubID, err := repo.UpsertHub(ctx, hub.Hub)
		if err != nil {
			return fmt.Errorf("seed hub %q: %w", hub.Name, err)
		}
		for _, c := range hub.Communities {
			communityID, err := repo.UpsertCommunity(ctx, c)
			if err != nil {
				return fmt.Errorf("seed community %q: %w", c.Name, err)
			}
			if err := repo.LinkCommunity(ctx, hubID, communityID); err != nil {
				return fmt.Errorf("seed link %q -> %q: %w", c.Name, hub.Name, err)
			}
		}
	}
	return nil
}
