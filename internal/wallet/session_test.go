package wallet_test

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks Signer,Provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"didvault/internal/identity/did"
	"didvault/internal/wallet"
	"didvault/internal/wallet/mocks"
	"didvault/internal/wallet/wallettest"
	dErrors "didvault/pkg/domain-errors"
)

var (
	alice = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	bob   = common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D")
)

type SessionSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	session  *wallet.Session
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.session = wallet.New(s.provider, wallet.WithTimeout(200*time.Millisecond))
}

func (s *SessionSuite) expectConnect(account common.Address, chainID string) {
	s.provider.EXPECT().RequestAccounts(gomock.Any()).Return([]string{account.Hex()}, nil)
	s.provider.EXPECT().ChainID(gomock.Any()).Return(chainID, nil)
}

func (s *SessionSuite) TestConnect() {
	s.Run("commits the first account and its DID", func() {
		s.SetupTest()
		feed, cancel := s.session.Subscribe(4)
		defer cancel()
		s.expectConnect(alice, "0x1")

		id, err := s.session.Connect(context.Background())
		s.Require().NoError(err)
		s.Equal(alice, id.Account)
		s.Equal(did.Derive(alice), id.DID)

		snap := s.session.Snapshot()
		s.Equal(wallet.Connected, snap.State)
		s.Equal("0x1", snap.ChainID)
		s.False(snap.ChainOK)

		change := <-feed
		s.Equal(wallet.ChangeConnected, change.Kind)
		s.Equal(alice, change.Snapshot.Account)
	})

	s.Run("already connected does not prompt again", func() {
		s.SetupTest()
		s.expectConnect(alice, "0x1")
		_, err := s.session.Connect(context.Background())
		s.Require().NoError(err)

		id, err := s.session.Connect(context.Background())
		s.Require().NoError(err)
		s.Equal(alice, id.Account)
	})

	s.Run("no provider", func() {
		session := wallet.New(nil)
		_, err := session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
		s.Equal(wallet.Disconnected, session.Snapshot().State)
	})

	s.Run("user rejection returns to disconnected", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).
			Return(nil, wallet.NewProviderError(wallet.CodeUserRejectedRequest, "User rejected the request."))

		_, err := s.session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeUserRejected))
		s.Equal(wallet.Disconnected, s.session.Snapshot().State)
	})

	s.Run("other provider failure", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).Return(nil, errors.New("boom"))

		_, err := s.session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeProviderError))
	})

	s.Run("empty account list is a provider error", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).Return([]string{}, nil)

		_, err := s.session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeProviderError))
	})

	s.Run("unresponsive wallet times out", func() {
		s.ctrl = gomock.NewController(s.T())
		s.provider = mocks.NewMockProvider(s.ctrl)
		s.session = wallet.New(s.provider, wallet.WithTimeout(20*time.Millisecond))
		s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		_, err := s.session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeProviderTimeout))
		s.Equal(wallet.Disconnected, s.session.Snapshot().State)
	})

	s.Run("chain id failure is not fatal", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).Return([]string{alice.Hex()}, nil)
		s.provider.EXPECT().ChainID(gomock.Any()).Return("", errors.New("unsupported"))

		_, err := s.session.Connect(context.Background())
		s.Require().NoError(err)
		s.Empty(s.session.Snapshot().ChainID)
	})
}

func (s *SessionSuite) TestConcurrentConnectSharesOneRequest() {
	release := make(chan struct{})
	s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
		<-release
		return []string{alice.Hex()}, nil
	}).Times(1)
	s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil).Times(1)

	var wg sync.WaitGroup
	results := make(chan wallet.Identity, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.session.Connect(context.Background())
			s.NoError(err)
			results <- id
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for id := range results {
		s.Equal(alice, id.Account)
	}
}

func (s *SessionSuite) TestSharedConnectSurvivesCallerCancel() {
	entered := make(chan struct{})
	release := make(chan struct{})
	s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
		close(entered)
		<-release
		return []string{alice.Hex()}, ctx.Err()
	})
	s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil)

	first, cancel := context.WithCancel(context.Background())
	results := make(chan error, 2)
	go func() {
		_, err := s.session.Connect(first)
		results <- err
	}()
	<-entered
	go func() {
		_, err := s.session.Connect(context.Background())
		results <- err
	}()

	cancel()
	close(release)

	for range 2 {
		s.NoError(<-results)
	}
	s.Equal(wallet.Connected, s.session.Snapshot().State)
}

func (s *SessionSuite) TestEventsDuringConnect() {
	s.Run("revocation while prompting expires the connect", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
			s.session.Apply(wallet.AccountsChanged())
			return []string{alice.Hex()}, nil
		})
		s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil)

		_, err := s.session.Connect(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
		s.Equal(wallet.Disconnected, s.session.Snapshot().State)
	})

	s.Run("account pushed while prompting wins", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
			s.session.Apply(wallet.AccountsChanged(bob.Hex()))
			return []string{alice.Hex()}, nil
		})
		s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil)

		id, err := s.session.Connect(context.Background())
		s.Require().NoError(err)
		s.Equal(bob, id.Account)
		s.Equal(bob, s.session.Snapshot().Account)
	})

	s.Run("chain pushed while prompting is kept", func() {
		s.SetupTest()
		s.provider.EXPECT().RequestAccounts(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]string, error) {
			s.session.Apply(wallet.ChainChanged("0x13882"))
			return []string{alice.Hex()}, nil
		})
		s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil)

		_, err := s.session.Connect(context.Background())
		s.Require().NoError(err)
		s.Equal("0x13882", s.session.Snapshot().ChainID)
	})
}

func (s *SessionSuite) connect() wallet.Snapshot {
	s.expectConnect(alice, "0x1")
	_, err := s.session.Connect(context.Background())
	s.Require().NoError(err)
	return s.session.Snapshot()
}

func (s *SessionSuite) TestPushedAccountReconnectsAsAccountChange() {
	feed, cancel := s.session.Subscribe(4)
	defer cancel()

	s.session.Apply(wallet.AccountsChanged(alice.Hex()))

	change := <-feed
	s.Equal(wallet.ChangeAccount, change.Kind)
	s.Equal(wallet.Connected, change.Snapshot.State)
	s.Equal(did.Derive(alice), change.Snapshot.DID)
}

func (s *SessionSuite) TestApply() {
	s.Run("account switch replaces identity and keeps chain", func() {
		s.SetupTest()
		before := s.connect()
		feed, cancel := s.session.Subscribe(4)
		defer cancel()

		s.session.Apply(wallet.AccountsChanged(bob.Hex()))

		after := s.session.Snapshot()
		s.Equal(bob, after.Account)
		s.Equal(did.Derive(bob), after.DID)
		s.Equal(before.ChainID, after.ChainID)
		s.Greater(after.IdentityEpoch, before.IdentityEpoch)
		s.Equal(wallet.ChangeAccount, (<-feed).Kind)
	})

	s.Run("same account is ignored", func() {
		s.SetupTest()
		before := s.connect()
		s.session.Apply(wallet.AccountsChanged(alice.Hex()))
		s.Equal(before.Generation, s.session.Snapshot().Generation)
	})

	s.Run("empty accounts disconnect", func() {
		s.SetupTest()
		s.connect()
		s.session.Apply(wallet.AccountsChanged())

		snap := s.session.Snapshot()
		s.Equal(wallet.Disconnected, snap.State)
		s.Empty(snap.DID)
	})

	s.Run("accounts while disconnected connect", func() {
		s.SetupTest()
		s.session.Apply(wallet.AccountsChanged(alice.Hex()))
		s.Equal(wallet.Connected, s.session.Snapshot().State)
	})

	s.Run("chain change marks chain unconfirmed", func() {
		s.SetupTest()
		before := s.connect()
		s.session.Apply(wallet.ChainChanged("0x13882"))

		after := s.session.Snapshot()
		s.Equal("0x13882", after.ChainID)
		s.False(after.ChainOK)
		s.Equal(before.ChainEpoch+1, after.ChainEpoch)
		s.Equal(before.IdentityEpoch, after.IdentityEpoch)
	})

	s.Run("repeated chain change is ignored", func() {
		s.SetupTest()
		before := s.connect()
		s.session.Apply(wallet.ChainChanged("0x01"))
		s.Equal(before.Generation, s.session.Snapshot().Generation)
	})
}

func (s *SessionSuite) TestValidate() {
	snap := s.connect()
	s.NoError(s.session.Validate(snap))

	s.Require().NoError(s.session.ConfirmChain(snap.IdentityEpoch, snap.ChainEpoch, snap.ChainID))
	s.Greater(s.session.Snapshot().Generation, snap.Generation)
	s.NoError(s.session.Validate(snap), "confirming the current chain keeps the session")

	s.session.Apply(wallet.ChainChanged("0x13882"))
	err := s.session.Validate(snap)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
}

func (s *SessionSuite) TestConfirmChain() {
	s.Run("confirms target", func() {
		s.SetupTest()
		snap := s.connect()
		s.Require().NoError(s.session.ConfirmChain(snap.IdentityEpoch, snap.ChainEpoch, "0x13882"))

		after := s.session.Snapshot()
		s.True(after.ChainOK)
		s.Equal("0x13882", after.ChainID)
	})

	s.Run("echo of the switch itself is accepted", func() {
		s.SetupTest()
		snap := s.connect()
		s.session.Apply(wallet.ChainChanged("0x13882"))
		s.NoError(s.session.ConfirmChain(snap.IdentityEpoch, snap.ChainEpoch, "0x13882"))
	})

	s.Run("chain moved elsewhere", func() {
		s.SetupTest()
		snap := s.connect()
		s.session.Apply(wallet.ChainChanged("0x89"))
		err := s.session.ConfirmChain(snap.IdentityEpoch, snap.ChainEpoch, "0x13882")
		s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
		s.False(s.session.Snapshot().ChainOK)
	})

	s.Run("account changed", func() {
		s.SetupTest()
		snap := s.connect()
		s.session.Apply(wallet.AccountsChanged(bob.Hex()))
		err := s.session.ConfirmChain(snap.IdentityEpoch, snap.ChainEpoch, "0x13882")
		s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	})
}

func TestRunPumpsProviderEvents(t *testing.T) {
	w := wallettest.New(t, 2)
	session := wallet.New(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	feed, unsubscribe := session.Subscribe(8)
	defer unsubscribe()

	w.SelectAccount(1)
	change := <-feed
	if change.Kind != wallet.ChangeAccount || change.Snapshot.Account != w.Account(1) {
		t.Fatalf("unexpected change %v", change.Kind)
	}

	w.Close()
	if err := <-done; !errors.Is(err, wallet.ErrEventsClosed) {
		t.Fatalf("expected closed stream, got %v", err)
	}
	if got := session.Snapshot().State; got != wallet.Errored {
		t.Fatalf("expected error state, got %s", got)
	}
}
