//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/evidence/vc/store"
	"didvault/internal/identity/did"
	"didvault/pkg/platform/sentinel"
	"didvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "credentials"))
}

const subject = did.DID("did:ethr:0x52908400098527886E0F7030069857D2E4169EE7")

func newRecord(fingerprint string, issuedAt time.Time) models.Record {
	return models.Record{
		ID:          models.NewCredentialID(),
		Subject:     subject,
		Issuer:      subject,
		Types:       []string{models.TypeVerifiableCredential, models.TypeVerifiedUser},
		IssuedAt:    issuedAt.UTC().Truncate(time.Microsecond),
		Fingerprint: fingerprint,
		Document:    []byte(`{"id":"x"}`),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	rec := newRecord("0x01", time.Now())
	rec.Anchor = &models.Anchor{TxHash: "0xfeed", BlockNumber: 42, AnchoredAt: rec.IssuedAt}
	s.Require().NoError(s.store.Save(ctx, rec))

	found, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, found.ID)
	s.Equal(rec.Types, found.Types)
	s.True(rec.IssuedAt.Equal(found.IssuedAt))
	s.JSONEq(string(rec.Document), string(found.Document))
	s.Require().NotNil(found.Anchor)
	s.Equal(uint64(42), found.Anchor.BlockNumber)
	s.Equal("0xfeed", found.Anchor.TxHash)
}

func (s *PostgresStoreSuite) TestDuplicate() {
	ctx := context.Background()
	rec := newRecord("0x02", time.Now())
	s.Require().NoError(s.store.Save(ctx, rec))
	s.ErrorIs(s.store.Save(ctx, rec), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(context.Background(), models.NewCredentialID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListBySubject() {
	ctx := context.Background()
	base := time.Now()
	s.Require().NoError(s.store.Save(ctx, newRecord("0x03", base)))
	s.Require().NoError(s.store.Save(ctx, newRecord("0x04", base.Add(time.Second))))

	records, err := s.store.ListBySubject(ctx, subject, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("0x04", records[0].Fingerprint)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	rec := newRecord("0x05", time.Now())
	s.Require().NoError(s.store.Save(ctx, rec))

	s.Require().NoError(s.store.Delete(ctx, rec.ID))
	_, err := s.store.FindByID(ctx, rec.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, rec.ID), sentinel.ErrNotFound)
}
