package ledger

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltStore", func() {
	var (
		dbPath string
		store  *BoltStore
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "ledger.db")
		var err error
		store, err = NewBoltStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("Update", func() {
		It("persists accounts and codes", func() {
			err := store.Update(func(tx Tx) error {
				if err := tx.PutAccount(&Account{Identity: "user-1", FreeRemaining: 2, PaidBalance: 7}); err != nil {
					return err
				}
				return tx.PutCode(&AccessCode{Code: "AAAA-BBBB-CCCC", CreditsTotal: 25, CreditsRemaining: 25})
			})
			Expect(err).NotTo(HaveOccurred())

			err = store.View(func(tx Tx) error {
				acct, err := tx.Account("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(acct.FreeRemaining).To(Equal(2))
				Expect(acct.PaidBalance).To(Equal(7))

				code, err := tx.Code("AAAA-BBBB-CCCC")
				Expect(err).NotTo(HaveOccurred())
				Expect(code.CreditsRemaining).To(Equal(25))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rolls back when the update fn fails", func() {
			sentinel := errStoreNotFound
			err := store.Update(func(tx Tx) error {
				if err := tx.PutAccount(&Account{Identity: "user-1", FreeRemaining: 1}); err != nil {
					return err
				}
				return sentinel
			})
			Expect(err).To(MatchError(sentinel))

			err = store.View(func(tx Tx) error {
				_, err := tx.Account("user-1")
				Expect(err).To(MatchError(errStoreNotFound))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("reopening the database", func() {
		It("retains ledger state across restarts", func() {
			ledger := NewLedger(store, 3)
			codes, err := ledger.GenerateCodes(2, 10)
			Expect(err).NotTo(HaveOccurred())
			_, err = ledger.Redeem("user-1", codes[0].Code)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Close()).To(Succeed())

			reopened, err := NewBoltStore(dbPath)
			Expect(err).NotTo(HaveOccurred())
			store = reopened

			ledger = NewLedger(reopened, 3)
			free, paid, err := ledger.Balance("user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(free).To(Equal(3))
			Expect(paid).To(Equal(10))

			_, err = ledger.Redeem("user-2", codes[0].Code)
			Expect(err).To(MatchError(ErrCodeAlreadyRedeemed))

			granted, err := ledger.Redeem("user-2", codes[1].Code)
			Expect(err).NotTo(HaveOccurred())
			Expect(granted).To(Equal(10))
		})
	})

	Describe("missing keys", func() {
		It("reports store-level not found", func() {
			err := store.View(func(tx Tx) error {
				_, err := tx.Account("ghost")
				Expect(err).To(MatchError(errStoreNotFound))
				_, err = tx.Code("GHOS-TGHO-STGH")
				Expect(err).To(MatchError(errStoreNotFound))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
