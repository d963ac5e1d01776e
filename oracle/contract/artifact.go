package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact pairs an interface with the creation code deployed for it.
type Artifact struct {
	ABI      *abi.ABI
	Bytecode []byte
}

// Artifacts holds the deployable artifact of each variant. A nil entry cannot be deployed.
type Artifacts struct {
	Minimal *Artifact
	Full    *Artifact
}

// hardhatArtifact is the subset of a compiler artifact file that is read.
type hardhatArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

// LoadArtifacts reads the artifact of each variant whose path is set. Variants without a
// path stay nil and cannot be deployed, though existing instances can still be bound.
func LoadArtifacts(minimalPath, fullPath string) (Artifacts, error) {
	var (
		artifacts Artifacts
		err       error
	)

	if minimalPath != "" {
		if artifacts.Minimal, err = LoadArtifact(minimalPath, types.VariantMinimal); err != nil {
			return Artifacts{}, err
		}
	}

	if fullPath != "" {
		if artifacts.Full, err = LoadArtifact(fullPath, types.VariantFull); err != nil {
			return Artifacts{}, err
		}
	}

	return artifacts, nil
}

// LoadArtifact reads a compiler artifact file ({"abi": [...], "bytecode": "0x..."}) and checks
// that its interface matches the variant.
func LoadArtifact(path string, variant types.Variant) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	return ParseArtifact(data, variant)
}

func ParseArtifact(data []byte, variant types.Variant) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}

	parsed, err := ParseABI(string(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse artifact ABI: %w", err)
	}

	if err := checkABI(parsed, variant); err != nil {
		return nil, err
	}

	bytecode := strings.TrimSpace(raw.Bytecode)
	if !strings.HasPrefix(bytecode, "0x") {
		bytecode = "0x" + bytecode
	}
	code, err := hexutil.Decode(bytecode)
	if err != nil {
		return nil, fmt.Errorf("failed to decode artifact bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("artifact has no bytecode")
	}

	return &Artifact{ABI: parsed, Bytecode: code}, nil
}

// For returns the artifact of variant, or InvalidArgument when none is available.
func (a Artifacts) For(variant types.Variant) (*Artifact, error) {
	var artifact *Artifact
	switch variant {
	case types.VariantMinimal:
		artifact = a.Minimal
	case types.VariantFull:
		artifact = a.Full
	default:
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "unknown oracle variant %s", variant)
	}

	if artifact == nil || len(artifact.Bytecode) == 0 {
		return nil, errorsmod.Wrapf(types.ErrInvalidArgument, "no bytecode configured for the %s variant", variant)
	}
	return artifact, nil
}
