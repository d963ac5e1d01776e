package contract

import (
	"embed"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
)

// The bundled artifacts are hand-assembled EVM code without compiler metadata.
// Storage: slot 0 latestPrice, slot 1 lastUpdated, slot 2 owner (the deployer).
// updatePrice reverts unless sent by the owner. The Full variant keeps its ABI-encoded
// constructor argument appended to the runtime code and returns it from dataSource().
//
//go:embed artifacts/*.json
var bundled embed.FS

var bundledFiles = map[types.Variant]string{
	types.VariantMinimal: "artifacts/MinimalOracle.json",
	types.VariantFull:    "artifacts/Oracle.json",
}

// BundledArtifact returns the artifact of variant shipped with the binary.
func BundledArtifact(variant types.Variant) (*Artifact, error) {
	name, ok := bundledFiles[variant]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "unknown oracle variant %s", variant)
	}

	data, err := bundled.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundled artifact %s: %w", name, err)
	}
	return ParseArtifact(data, variant)
}

func BundledArtifacts() (Artifacts, error) {
	minimal, err := BundledArtifact(types.VariantMinimal)
	if err != nil {
		return Artifacts{}, err
	}
	full, err := BundledArtifact(types.VariantFull)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{Minimal: minimal, Full: full}, nil
}

// WithFallback fills the variants a has no artifact for from fallback.
func (a Artifacts) WithFallback(fallback Artifacts) Artifacts {
	if a.Minimal == nil {
		a.Minimal = fallback.Minimal
	}
	if a.Full == nil {
		a.Full = fallback.Full
	}
	return a
}
