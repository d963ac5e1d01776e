package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/GPTx-global/guru-oracle/oracle/config"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/stretchr/testify/suite"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type CLITestSuite struct {
	suite.Suite
	home string
}

func (suite *CLITestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *CLITestSuite) SetupTest() {
	suite.home = filepath.Join(suite.T().TempDir(), "oracled")
}

func (suite *CLITestSuite) execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--home", suite.home}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (suite *CLITestSuite) TestConfigInit() {
	out, err := suite.execute("config", "init")
	suite.Require().NoError(err)
	suite.Contains(out, config.Path(suite.home))
	suite.FileExists(config.Path(suite.home))

	info, err := os.Stat(config.Path(suite.home))
	suite.Require().NoError(err)
	suite.Equal(os.FileMode(0600), info.Mode().Perm())

	_, err = suite.execute("config", "init")
	suite.ErrorContains(err, "already exists")

	_, err = suite.execute("config", "init", "--force")
	suite.NoError(err)
}

func (suite *CLITestSuite) TestConfigShowMasksKey() {
	cfg := config.Default(suite.home)
	cfg.Key.PrivateKey = testKey
	suite.Require().NoError(config.Save(cfg))

	out, err := suite.execute("config", "show")

	suite.Require().NoError(err)
	suite.Contains(out, "****")
	suite.NotContains(out, testKey)
	suite.Contains(out, "50312")
}

func (suite *CLITestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("ORACLED_MNEMONIC", "test test test test test test test test test test test junk")
	suite.T().Setenv("ORACLED_RPC", "http://127.0.0.1:9999")

	out, err := suite.execute("config", "show")

	suite.Require().NoError(err)
	suite.Contains(out, "http://127.0.0.1:9999")
	suite.NotContains(out, "junk")
}

func (suite *CLITestSuite) TestInvalidLogLevel() {
	_, err := suite.execute("--log-level", "loud", "price", "presets")
	suite.ErrorContains(err, "unknown log level")
}

func (suite *CLITestSuite) TestPricePresets() {
	out, err := suite.execute("price", "presets")

	suite.Require().NoError(err)
	suite.Contains(out, "Bitcoin (CoinGecko)")
	suite.Contains(out, "CoinGecko SOL/USD")
}

func (suite *CLITestSuite) TestPriceFetch() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"12345.678"}`))
	}))
	defer srv.Close()

	out, err := suite.execute("price", "fetch", "--endpoint", srv.URL+"/ticker")

	suite.Require().NoError(err)
	suite.Contains(out, "12345.68")
	suite.Contains(out, "1234568")
}

func (suite *CLITestSuite) TestPriceFetchFlags() {
	_, err := suite.execute("price", "fetch", "--preset", "dogecoin")
	suite.ErrorContains(err, "unknown preset")

	_, err = suite.execute("price", "fetch", "--preset", "bitcoin", "--endpoint", "http://127.0.0.1:1")
	suite.ErrorContains(err, "mutually exclusive")
}

func (suite *CLITestSuite) TestDeployWithoutKey() {
	_, err := suite.execute("deploy", "--variant", "minimal")
	suite.ErrorContains(err, "no signing key")
}

func (suite *CLITestSuite) TestDeployRejectsUnknownVariant() {
	_, err := suite.execute("deploy", "--variant", "medium")
	suite.ErrorIs(err, types.ErrInvalidArgument)
}

func (suite *CLITestSuite) TestAttachRejectsBadAddress() {
	_, err := suite.execute("attach", "0x1234")
	suite.ErrorIs(err, types.ErrInvalidArgument)
}

func (suite *CLITestSuite) TestSyncWithoutOracle() {
	suite.T().Setenv("ORACLED_PRIVATE_KEY", testKey)
	suite.T().Setenv("ORACLED_RPC", "http://127.0.0.1:1")

	cfg := config.Default(suite.home)
	cfg.Chain.DialAttempts = 1
	suite.Require().NoError(config.Save(cfg))

	_, err := suite.execute("sync")
	suite.Error(err)
}

func (suite *CLITestSuite) TestArtifactsDefaultToBundled() {
	// Given a default config without artifact paths
	a := newApp()
	a.cfg = config.Default(suite.home)

	// Then both variants are deployable
	artifacts, err := a.artifacts()
	suite.Require().NoError(err)
	for _, variant := range []types.Variant{types.VariantMinimal, types.VariantFull} {
		_, err := artifacts.For(variant)
		suite.NoError(err, variant)
	}

	// And a configured artifact replaces the bundled one
	suite.Require().NoError(os.MkdirAll(suite.home, 0o755))
	body := fmt.Sprintf(`{"abi":%s,"bytecode":"0x6080604052"}`, contract.FullABI)
	suite.Require().NoError(os.WriteFile(filepath.Join(suite.home, "Oracle.json"), []byte(body), 0o600))
	a.cfg.Oracle.FullArtifact = "Oracle.json"

	artifacts, err = a.artifacts()
	suite.Require().NoError(err)
	suite.Equal([]byte{0x60, 0x80, 0x60, 0x40, 0x52}, artifacts.Full.Bytecode)
	suite.NotEqual(artifacts.Full.Bytecode, artifacts.Minimal.Bytecode)
}

func TestCLITestSuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}
