package daemon_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/GPTx-global/guru-oracle/oracle/config"
	"github.com/GPTx-global/guru-oracle/oracle/daemon"
	"github.com/GPTx-global/guru-oracle/oracle/health"
	"github.com/GPTx-global/guru-oracle/oracle/testutil"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var localnet = types.NetworkDescriptor{
	ChainID:        31337,
	Name:           "Localnet",
	RPCEndpoint:    "http://127.0.0.1:8545",
	CurrencySymbol: "ETH",
	Decimals:       18,
}

type fixedFetcher struct {
	mu    sync.Mutex
	price int64
	err   error
}

func (f *fixedFetcher) Fetch(context.Context, string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return big.NewInt(f.price), nil
}

// tickSource lets specs drive the auto-update timer.
type tickSource struct {
	mu sync.Mutex
	ch chan time.Time
}

func (t *tickSource) new(time.Duration) (<-chan time.Time, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ch = make(chan time.Time)
	return t.ch, func() {}
}

func (t *tickSource) fire() {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	Eventually(ch).Should(BeSent(time.Now()))
}

func messages(records []types.Activity) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Message)
	}
	return out
}

var _ = Describe("Daemon", func() {
	var (
		ctx      context.Context
		cfg      *config.Config
		backend  *testutil.Backend
		provider *testutil.Provider
		fetcher  *fixedFetcher
		ticks    *tickSource
		d        *daemon.Daemon
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.Default("oracled-test")
		cfg.Chain.NetworkDescriptor = localnet

		backend = testutil.NewBackend()
		backend.SetClock(func() uint64 { return 1_700_000_000 })
		provider = testutil.NewProvider(backend, localnet)
		fetcher = &fixedFetcher{price: 1234568}
		ticks = &tickSource{}
	})

	JustBeforeEach(func() {
		d = daemon.New(cfg, provider, backend.Artifacts(), daemon.WithFetcher(fetcher), daemon.WithTicker(ticks.new))
	})

	AfterEach(func() {
		d.Close()
	})

	Describe("Connect", func() {
		It("connects on the configured network", func() {
			identity, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Address).To(Equal(provider.Address()))
			Expect(identity.NetworkID).To(Equal(localnet.ChainID))
			Expect(provider.Switches()).To(BeEmpty())
			Expect(d.Status().Connected).To(BeTrue())
		})

		Context("when the provider is on another network", func() {
			BeforeEach(func() {
				cfg.Chain.NetworkDescriptor = types.SomniaTestnet
			})

			It("registers and switches to the configured network", func() {
				_, err := d.Connect(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(provider.Adds()).To(ContainElement(types.SomniaTestnet.ChainID))
				Eventually(func() uint64 {
					identity, _ := d.Session().Identity()
					return identity.NetworkID
				}).Should(Equal(types.SomniaTestnet.ChainID))
			})
		})

		Context("when the provider is locked", func() {
			BeforeEach(func() {
				provider.Lock()
			})

			It("fails without a wallet", func() {
				_, err := d.Connect(ctx)
				Expect(err).To(MatchError(types.ErrNoWalletProvider))
				Expect(d.Status().Connected).To(BeFalse())
			})
		})
	})

	Describe("without an oracle", func() {
		It("rejects sync operations", func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.RunOnce(ctx)
			Expect(err).To(MatchError(types.ErrNoOracle))
			Expect(d.StartAuto(30)).To(MatchError(types.ErrNoOracle))
			_, err = d.Refresh(ctx)
			Expect(err).To(MatchError(types.ErrNoOracle))
		})
	})

	Describe("Deploy", func() {
		JustBeforeEach(func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("binds the new oracle and caches its snapshot", func() {
			res, err := d.Deploy(ctx, types.VariantFull, "CoinGecko BTC/USD")
			Expect(err).NotTo(HaveOccurred())

			oracle, ok := d.Oracle()
			Expect(ok).To(BeTrue())
			Expect(oracle.Address).To(Equal(res.Oracle.Address))

			st := d.Status()
			Expect(st.DeployState).To(Equal("Ready"))
			Expect(st.Snapshot).NotTo(BeNil())
			Expect(st.Snapshot.DataSource).To(Equal("CoinGecko BTC/USD"))
			Expect(st.Snapshot.Owner).To(Equal(provider.Address()))
		})

		It("leaves nothing bound when the deployment fails", func() {
			provider.SetBalance(provider.Address(), big.NewInt(0))

			_, err := d.Deploy(ctx, types.VariantMinimal, "")
			Expect(err).To(MatchError(types.ErrInsufficientFunds))

			_, ok := d.Oracle()
			Expect(ok).To(BeFalse())
			Expect(d.Recent()).To(ContainElement(HaveField("Kind", types.ActivityError)))
		})
	})

	Describe("Deploy across a session reset", func() {
		var done chan error

		JustBeforeEach(func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())

			backend.Hold()
			done = make(chan error, 1)
			go func() {
				_, err := d.Deploy(ctx, types.VariantMinimal, "")
				done <- err
			}()
			Eventually(func() string { return d.Status().DeployState }).Should(Equal("Submitting"))
		})

		AfterEach(func() {
			backend.Release()
		})

		It("does not bind an oracle deployed after a disconnect", func() {
			d.Disconnect()
			backend.Release()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(types.ErrSessionInvalidated))

			_, ok := d.Oracle()
			Expect(ok).To(BeFalse())
			Expect(d.Status().Connected).To(BeFalse())
			Expect(messages(d.Recent())).To(ContainElement(ContainSubstring("not bound")))

			_, err = d.RunOnce(ctx)
			Expect(err).To(MatchError(types.ErrNoOracle))
		})

		It("does not bind an oracle deployed before a network change", func() {
			provider.ChangeNetwork(types.SomniaTestnet)
			Eventually(func() uint64 {
				identity, _ := d.Session().Identity()
				return identity.NetworkID
			}).Should(Equal(types.SomniaTestnet.ChainID))
			backend.Release()

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(types.ErrSessionInvalidated))

			_, ok := d.Oracle()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Attach", func() {
		JustBeforeEach(func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("binds an existing oracle", func() {
			addr := backend.Install(types.VariantFull, provider.Address(), "CoinGecko ETH/USD")

			snap, err := d.Attach(ctx, addr, types.VariantFull)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.DataSource).To(Equal("CoinGecko ETH/USD"))

			oracle, ok := d.Oracle()
			Expect(ok).To(BeTrue())
			Expect(oracle.DataSourceLabel).To(Equal("CoinGecko ETH/USD"))
			Expect(oracle.NetworkID).To(Equal(localnet.ChainID))
		})

		It("refuses an address without an oracle", func() {
			_, err := d.Attach(ctx, common.HexToAddress("0x00000000000000000000000000000000000000aa"), types.VariantMinimal)
			Expect(err).To(MatchError(types.ErrRemoteCallFailed))

			_, ok := d.Oracle()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("with a bound oracle", func() {
		JustBeforeEach(func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = d.Deploy(ctx, types.VariantMinimal, "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("runs a manual sync", func() {
			snap, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.LatestPrice).To(Equal(big.NewInt(1234568)))
			Expect(snap.FormatPrice()).To(Equal("12345.68"))
			Expect(d.Status().Sync.Runs).To(Equal(uint64(1)))
		})

		It("syncs on every tick until stopped", func() {
			Expect(d.StartAuto(types.MinSyncInterval)).To(Succeed())
			Expect(d.Status().Sync.Running).To(BeTrue())

			ticks.fire()
			Eventually(func() uint64 { return d.Status().Sync.Runs }).Should(Equal(uint64(1)))

			d.StopAuto()
			d.StopAuto()
			Expect(d.Status().Sync.Running).To(BeFalse())
		})

		It("stops auto-update but keeps the oracle on account change", func() {
			Expect(d.StartAuto(types.MinSyncInterval)).To(Succeed())

			provider.ChangeAccount()

			Eventually(func() bool { return d.Status().Sync.Running }).Should(BeFalse())
			_, ok := d.Oracle()
			Expect(ok).To(BeTrue())
		})

		It("drops the oracle and cache on network change", func() {
			Expect(d.StartAuto(types.MinSyncInterval)).To(Succeed())

			provider.ChangeNetwork(types.SomniaTestnet)

			Eventually(func() bool {
				_, ok := d.Oracle()
				return ok
			}).Should(BeFalse())
			_, _, cached := d.Snapshot()
			Expect(cached).To(BeFalse())
			Expect(d.Status().Sync.Running).To(BeFalse())
		})

		It("drops the oracle on disconnect", func() {
			d.Disconnect()

			_, ok := d.Oracle()
			Expect(ok).To(BeFalse())
			Expect(d.Status().Connected).To(BeFalse())
			_, err := d.RunOnce(ctx)
			Expect(err).To(MatchError(types.ErrNoOracle))
		})

		It("keeps running after a failed scheduled sync", func() {
			fetcher.mu.Lock()
			fetcher.err = types.ErrSourceUnreachable
			fetcher.mu.Unlock()
			Expect(d.StartAuto(types.MinSyncInterval)).To(Succeed())

			ticks.fire()

			Eventually(func() uint64 { return d.Status().Sync.Failures }).Should(Equal(uint64(1)))
			Expect(d.Status().Sync.Running).To(BeTrue())
			Expect(d.Status().Sync.LastError).To(ContainSubstring("unreachable"))
		})
	})

	Describe("activity", func() {
		It("streams records to subscribers", func() {
			ch := make(chan types.Activity, 8)
			sub := d.SubscribeActivity(ch)
			defer sub.Unsubscribe()

			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())

			var a types.Activity
			Eventually(ch).Should(Receive(&a))
			Expect(a.Message).To(HavePrefix("connected"))
		})

		It("keeps only the latest records", func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < daemon.RecentActivity; i++ {
				_, err := d.Deploy(ctx, types.Variant(0), "")
				Expect(err).To(MatchError(types.ErrInvalidArgument))
			}

			recent := d.Recent()
			Expect(recent).To(HaveLen(daemon.RecentActivity))
			Expect(strings.Join(messages(recent), "\n")).NotTo(ContainSubstring("connected"))
		})
	})

	Describe("health checks", func() {
		It("checks the chain and the price source", func() {
			_, err := d.Connect(ctx)
			Expect(err).NotTo(HaveOccurred())

			checker := health.NewChecker(time.Minute, time.Second)
			for _, c := range d.HealthChecks() {
				checker.Add(c)
			}
			checker.RunChecks(ctx)
			Expect(checker.IsHealthy()).To(BeTrue())

			fetcher.mu.Lock()
			fetcher.err = types.ErrSourceUnreachable
			fetcher.mu.Unlock()
			checker.RunChecks(ctx)
			Expect(checker.Failing()).To(Equal([]string{health.CheckPriceSource}))
		})
	})
})
