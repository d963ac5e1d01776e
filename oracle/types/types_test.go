package types

import (
	"errors"
	"math/big"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

type TypesTestSuite struct {
	suite.Suite
}

func (suite *TypesTestSuite) TestParseVariant() {
	testCases := []struct {
		input string
		want  Variant
	}{
		{"minimal", VariantMinimal},
		{"Simple", VariantMinimal},
		{" full ", VariantFull},
		{"ADVANCED", VariantFull},
	}

	for _, tc := range testCases {
		got, err := ParseVariant(tc.input)
		suite.Require().NoError(err, tc.input)
		suite.Equal(tc.want, got, tc.input)
	}

	_, err := ParseVariant("medium")
	suite.ErrorIs(err, ErrInvalidArgument)
}

func (suite *TypesTestSuite) TestVariantText() {
	var v Variant
	suite.Require().NoError(v.UnmarshalText([]byte("full")))
	suite.Equal(VariantFull, v)

	text, err := VariantMinimal.MarshalText()
	suite.Require().NoError(err)
	suite.Equal("minimal", string(text))

	suite.Error(v.UnmarshalText([]byte("")))
}

func (suite *TypesTestSuite) TestVariantGasLimit() {
	suite.Equal(uint64(500_000), VariantMinimal.GasLimit())
	suite.Equal(uint64(2_000_000), VariantFull.GasLimit())
	suite.Zero(Variant(7).GasLimit())
	suite.False(Variant(7).Valid())
}

func (suite *TypesTestSuite) TestNetworkDescriptorValidate() {
	suite.NoError(SomniaTestnet.Validate())

	bad := SomniaTestnet
	bad.Decimals = 6
	suite.ErrorIs(bad.Validate(), ErrInvalidArgument)

	bad = SomniaTestnet
	bad.RPCEndpoint = ""
	suite.ErrorIs(bad.Validate(), ErrInvalidArgument)

	suite.ErrorIs(NetworkDescriptor{}.Validate(), ErrInvalidArgument)
}

func (suite *TypesTestSuite) TestChainIdentityValidate() {
	suite.NoError(ChainIdentity{NetworkID: 1}.Validate())
	suite.ErrorIs(ChainIdentity{SigningCapability: true}.Validate(), ErrInvalidArgument)
}

func (suite *TypesTestSuite) TestFormatPrice() {
	suite.Equal("12345.68", FormatPrice(big.NewInt(1234568)))
	suite.Equal("0.05", FormatPrice(big.NewInt(5)))
	suite.Equal("100.00", FormatPrice(big.NewInt(10000)))
	suite.Equal("0.00", FormatPrice(nil))
}

func (suite *TypesTestSuite) TestSnapshotEqual() {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	a := Snapshot{LatestPrice: big.NewInt(10), LastUpdated: 5, DataSource: "x", Owner: owner}
	b := Snapshot{LatestPrice: big.NewInt(10), LastUpdated: 5, DataSource: "x", Owner: owner}

	suite.True(a.Equal(b))

	b.LatestPrice = big.NewInt(11)
	suite.False(a.Equal(b))

	b.LatestPrice = nil
	suite.False(a.Equal(b))

	suite.Equal(int64(5), a.UpdatedAt().Unix())
}

func (suite *TypesTestSuite) TestSyncError() {
	cause := errorsmod.Wrap(ErrMalformedResponse, "no price")
	err := error(NewSyncError("fetch", cause))

	suite.ErrorIs(err, ErrSyncFailed)
	suite.ErrorIs(err, ErrMalformedResponse)
	suite.Contains(err.Error(), "fetch")

	var syncErr *SyncError
	suite.Require().True(errors.As(err, &syncErr))
	suite.Equal("fetch", syncErr.Stage)

	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	suite.Equal(Codespace, codespace)
	suite.Equal(ErrMalformedResponse.ABCICode(), code)
}

func (suite *TypesTestSuite) TestIsSessionInvalidated() {
	suite.True(IsSessionInvalidated(NewSyncError("write", errorsmod.Wrap(ErrSessionInvalidated, "reset"))))
	suite.False(IsSessionInvalidated(ErrSyncBusy))
}

func (suite *TypesTestSuite) TestResetReasonString() {
	suite.NotEqual(ResetAccountChanged.String(), ResetNetworkChanged.String())
	suite.NotEmpty(ResetDisconnected.String())
}

func TestTypesTestSuite(t *testing.T) {
	suite.Run(t, new(TypesTestSuite))
}
