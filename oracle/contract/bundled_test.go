package contract_test

import (
	"math/big"

	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
)

func (suite *ContractTestSuite) TestBundledArtifacts() {
	bundled, err := contract.BundledArtifacts()
	suite.Require().NoError(err)

	for _, variant := range []types.Variant{types.VariantMinimal, types.VariantFull} {
		a, err := bundled.For(variant)
		suite.Require().NoError(err, variant)
		suite.NotEmpty(a.Bytecode)
	}

	// configured artifacts win over the bundled ones
	configured := &contract.Artifact{Bytecode: []byte{0x60, 0x00}}
	merged := contract.Artifacts{Full: configured}.WithFallback(bundled)
	suite.Same(configured, merged.Full)
	suite.Same(bundled.Minimal, merged.Minimal)

	_, err = contract.BundledArtifact(types.Variant(0))
	suite.ErrorIs(err, types.ErrInvalidArgument)
}

// deployOnEVM runs the bundled creation code of variant in an in-memory EVM.
func (suite *ContractTestSuite) deployOnEVM(variant types.Variant, args ...interface{}) (*contract.Artifact, common.Address, *runtime.Config) {
	a, err := contract.BundledArtifact(variant)
	suite.Require().NoError(err)

	packed, err := a.ABI.Pack("", args...)
	suite.Require().NoError(err)

	cfg := &runtime.Config{Origin: suite.owner, Time: big.NewInt(1_700_000_000)}
	code, addr, _, err := runtime.Create(append(append([]byte{}, a.Bytecode...), packed...), cfg)
	suite.Require().NoError(err)
	suite.Require().NotEmpty(code)
	return a, addr, cfg
}

func (suite *ContractTestSuite) evmCall(a *contract.Artifact, addr common.Address, cfg *runtime.Config, method string, args ...interface{}) ([]interface{}, error) {
	input, err := a.ABI.Pack(method, args...)
	suite.Require().NoError(err)

	out, _, err := runtime.Call(addr, input, cfg)
	if err != nil {
		return nil, err
	}
	return a.ABI.Unpack(method, out)
}

func (suite *ContractTestSuite) TestBundledFullOnEVM() {
	// Given the bundled full oracle deployed with a label
	a, addr, cfg := suite.deployOnEVM(types.VariantFull, "CoinGecko BTC/USD")

	// Then it reads back as a fresh oracle owned by the deployer
	out, err := suite.evmCall(a, addr, cfg, contract.MethodDataSource)
	suite.Require().NoError(err)
	suite.Equal("CoinGecko BTC/USD", out[0])

	out, err = suite.evmCall(a, addr, cfg, contract.MethodOwner)
	suite.Require().NoError(err)
	suite.Equal(suite.owner, out[0])

	out, err = suite.evmCall(a, addr, cfg, contract.MethodLatestPrice)
	suite.Require().NoError(err)
	suite.Zero(out[0].(*big.Int).Sign())

	// When the owner updates the price
	_, err = suite.evmCall(a, addr, cfg, contract.MethodUpdatePrice, big.NewInt(1234568))
	suite.Require().NoError(err)

	// Then both fields change and PriceUpdated is emitted
	out, err = suite.evmCall(a, addr, cfg, contract.MethodLatestPrice)
	suite.Require().NoError(err)
	suite.Equal(0, big.NewInt(1234568).Cmp(out[0].(*big.Int)))

	out, err = suite.evmCall(a, addr, cfg, contract.MethodLastUpdated)
	suite.Require().NoError(err)
	suite.Equal(0, big.NewInt(1_700_000_000).Cmp(out[0].(*big.Int)))

	logs := cfg.State.Logs()
	suite.Require().Len(logs, 1)
	suite.Equal(addr, logs[0].Address)
	suite.Equal(a.ABI.Events[contract.EventPriceUpdated].ID, logs[0].Topics[0])
	values, err := a.ABI.Unpack(contract.EventPriceUpdated, logs[0].Data)
	suite.Require().NoError(err)
	suite.Equal(0, big.NewInt(1234568).Cmp(values[0].(*big.Int)))
	suite.Equal(0, big.NewInt(1_700_000_000).Cmp(values[1].(*big.Int)))
}

func (suite *ContractTestSuite) TestBundledMinimalOnEVM() {
	a, addr, cfg := suite.deployOnEVM(types.VariantMinimal)

	_, err := suite.evmCall(a, addr, cfg, contract.MethodUpdatePrice, big.NewInt(42))
	suite.Require().NoError(err)

	out, err := suite.evmCall(a, addr, cfg, contract.MethodLatestPrice)
	suite.Require().NoError(err)
	suite.Equal(0, big.NewInt(42).Cmp(out[0].(*big.Int)))

	// the minimal variant has no label
	full, err := contract.BundledArtifact(types.VariantFull)
	suite.Require().NoError(err)
	_, err = suite.evmCall(full, addr, cfg, contract.MethodDataSource)
	suite.ErrorIs(err, vm.ErrExecutionReverted)
}

func (suite *ContractTestSuite) TestBundledUpdateIsOwnerOnly() {
	a, addr, cfg := suite.deployOnEVM(types.VariantFull, "label")

	cfg.Origin = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	_, err := suite.evmCall(a, addr, cfg, contract.MethodUpdatePrice, big.NewInt(1))
	suite.ErrorIs(err, vm.ErrExecutionReverted)

	out, err := suite.evmCall(a, addr, cfg, contract.MethodLatestPrice)
	suite.Require().NoError(err)
	suite.Zero(out[0].(*big.Int).Sign())
	suite.Empty(cfg.State.Logs())
}
