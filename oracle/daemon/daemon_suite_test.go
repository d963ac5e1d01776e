package daemon_test

import (
	"testing"

	"github.com/GPTx-global/guru-oracle/oracle/log"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Daemon Suite")
}

var _ = BeforeSuite(func() {
	log.InitLogger()
})
