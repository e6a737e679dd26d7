package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"didvault/internal/network"
	"didvault/internal/network/guard"
	"didvault/internal/wallet"
	"didvault/internal/wallet/mocks"
	dErrors "didvault/pkg/domain-errors"
)

var account = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")

type GuardSuite struct {
	suite.Suite
	provider *mocks.MockProvider
	session  *wallet.Session
	guard    *guard.Guard
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(ctrl)
	s.session = wallet.New(s.provider, wallet.WithTimeout(100*time.Millisecond))
	s.guard = guard.New(s.session)

	s.provider.EXPECT().RequestAccounts(gomock.Any()).Return([]string{account.Hex()}, nil)
	s.provider.EXPECT().ChainID(gomock.Any()).Return("0x1", nil)
	_, err := s.session.Connect(context.Background())
	s.Require().NoError(err)
}

func rejected() error {
	return wallet.NewProviderError(wallet.CodeUserRejectedRequest, "User rejected the request.")
}

func unrecognized() error {
	return wallet.NewProviderError(wallet.CodeUnrecognizedChain, "Unrecognized chain ID")
}

func (s *GuardSuite) TestSwitchKnownChain() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(nil).Times(1)
	s.provider.EXPECT().ChainID(gomock.Any()).Return(network.Amoy.ChainID, nil)

	s.Require().NoError(s.guard.Ensure(context.Background(), network.Amoy))
	snap := s.session.Snapshot()
	s.True(snap.ChainOK)
	s.Equal(network.Amoy.ChainID, snap.ChainID)

	// already confirmed: no provider traffic
	s.NoError(s.guard.Ensure(context.Background(), network.Amoy))
}

func (s *GuardSuite) TestAddThenSwitchOnce() {
	gomock.InOrder(
		s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(unrecognized()),
		s.provider.EXPECT().AddChain(gomock.Any(), network.Amoy).Return(nil).Times(1),
		s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(nil),
		s.provider.EXPECT().ChainID(gomock.Any()).Return(network.Amoy.ChainID, nil),
	)

	s.Require().NoError(s.guard.Ensure(context.Background(), network.Amoy))
	s.True(s.session.Snapshot().ChainOK)
}

func (s *GuardSuite) TestSecondUnrecognizedIsAddFailure() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(unrecognized()).Times(2)
	s.provider.EXPECT().AddChain(gomock.Any(), network.Amoy).Return(nil).Times(1)

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeNetworkAddFailed))
	s.False(s.session.Snapshot().ChainOK)
}

func (s *GuardSuite) TestAddFailure() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(unrecognized()).Times(1)
	s.provider.EXPECT().AddChain(gomock.Any(), network.Amoy).Return(rejected())

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeNetworkAddFailed))
	s.Equal(wallet.Connected, s.session.Snapshot().State)
}

func (s *GuardSuite) TestSwitchDenied() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(rejected())

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeNetworkSwitchDenied))
}

func (s *GuardSuite) TestOtherProviderFailure() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).
		Return(wallet.NewProviderError(wallet.CodeChainDisconnected, "chain disconnected"))

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeProviderError))
}

func (s *GuardSuite) TestTimeout() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).
		DoAndReturn(func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		})

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeProviderTimeout))
}

func (s *GuardSuite) TestChainMovedElsewhereDuringSwitch() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).
		DoAndReturn(func(context.Context, string) error {
			s.session.Apply(wallet.ChainChanged("0x89"))
			return nil
		})
	s.provider.EXPECT().ChainID(gomock.Any()).Return("0x89", nil)

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	s.False(s.session.Snapshot().ChainOK)
}

func (s *GuardSuite) TestAccountChangedDuringSwitch() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).
		DoAndReturn(func(context.Context, string) error {
			s.session.Apply(wallet.AccountsChanged("0x8617E340B3D01FA5F11F306F4090FD50E238070D"))
			return nil
		})

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	s.False(s.session.Snapshot().ChainOK)
}

func (s *GuardSuite) TestReadBackFailure() {
	s.provider.EXPECT().SwitchChain(gomock.Any(), network.Amoy.ChainID).Return(nil)
	s.provider.EXPECT().ChainID(gomock.Any()).Return("", errors.New("rpc down"))

	err := s.guard.Ensure(context.Background(), network.Amoy)
	s.True(dErrors.HasCode(err, dErrors.CodeProviderError))
}

func TestEnsureRequiresConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := wallet.New(mocks.NewMockProvider(ctrl))
	err := guard.New(session).Ensure(context.Background(), network.Amoy)
	if !dErrors.HasCode(err, dErrors.CodeNotConnected) {
		t.Fatalf("expected not_connected, got %v", err)
	}

	err = guard.New(wallet.New(nil)).Ensure(context.Background(), network.Amoy)
	if !dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}
