package invites

import (
	"net/http"
	"testing"
	"time"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"github.com/CobaltCoveLabs/lanyard/internal/authz"
	"github.com/CobaltCoveLabs/lanyard/internal/identity"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testIssuer   = "https://provider.example.com"
	testClientID = "client-1"
)

type pipelineFixture struct {
	pipeline  *Pipeline
	store     *accounts.Store
	directory *identity.Directory
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&accounts.Account{}, &accounts.Attribute{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := accounts.NewStore(accounts.StoreConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	directory, err := identity.NewDirectory(store, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	provisioner, err := identity.NewProvisioner(identity.ProvisionerConfig{
		Store:     store,
		Directory: directory,
		Policy:    identity.Policy{CreateIfNotExists: true},
	})
	if err != nil {
		t.Fatalf("failed to create provisioner: %v", err)
	}
	merger, err := identity.NewMerger(store, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create merger: %v", err)
	}
	registry, err := authz.NewRegistry(authz.RegistryConfig{})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	pipeline, err := NewPipeline(PipelineConfig{
		Config:      Config{Issuer: testIssuer, ClientID: testClientID},
		Directory:   directory,
		Provisioner: provisioner,
		Merger:      merger,
		Store:       store,
		Authorizer:  registry,
		Roles:       registry,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	return &pipelineFixture{
		pipeline:  pipeline,
		store:     store,
		directory: directory,
	}
}

// seedInviter creates an account holding the given role and links it to the
// subject.
func (f *pipelineFixture) seedInviter(t *testing.T, subject, role string) accounts.Account {
	t.Helper()
	account, err := f.store.Create(accounts.Seed{
		Login: "inviter-" + subject,
		Email: subject + "@example.com",
		Role:  role,
	})
	if err != nil {
		t.Fatalf("failed to seed inviter: %v", err)
	}
	if err := f.directory.Link(account.ID, subject); err != nil {
		t.Fatalf("failed to link inviter: %v", err)
	}
	return account
}

func jsonEnvelope(body string) Envelope {
	return Envelope{
		Method:        http.MethodPost,
		ContentLength: int64(len(body)),
		ContentType:   "application/json",
	}
}

func createdToken(t *testing.T, inviterSubject, inviteeSubject, email, role string) string {
	t.Helper()
	return makeToken(t, map[string]interface{}{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   inviteeSubject,
		"email": email,
		"events": map[string]interface{}{
			EventInviteCreated: map[string]interface{}{
				"role":    role,
				"inviter": map[string]interface{}{"sub": inviterSubject},
			},
		},
	})
}

func expectFailureKind(t *testing.T, err error, want FailureKind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a pipeline failure")
	}
	kind, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected classified failure, got %v", err)
	}
	if kind != want {
		t.Fatalf("expected failure kind %d, got %d (%v)", want, kind, err)
	}
}

func TestValidateEnvelope(t *testing.T) {
	testCases := []struct {
		name     string
		envelope Envelope
		want     FailureKind
		ok       bool
	}{
		{
			name:     "post json accepted",
			envelope: Envelope{Method: http.MethodPost, ContentLength: 10, ContentType: "application/json"},
			ok:       true,
		},
		{
			name:     "content type parameters ignored",
			envelope: Envelope{Method: http.MethodPost, ContentLength: 10, ContentType: "application/json; charset=utf-8"},
			ok:       true,
		},
		{
			name:     "read method rejected",
			envelope: Envelope{Method: http.MethodGet, ContentLength: 10, ContentType: "application/json"},
			want:     FailureMethodNotAllowed,
		},
		{
			name:     "missing length rejected",
			envelope: Envelope{Method: http.MethodPost, ContentLength: -1, ContentType: "application/json"},
			want:     FailureLengthRequired,
		},
		{
			name:     "oversized body rejected",
			envelope: Envelope{Method: http.MethodPost, ContentLength: MaxEventBytes + 1, ContentType: "application/json"},
			want:     FailurePayloadTooLarge,
		},
		{
			name:     "plain text rejected",
			envelope: Envelope{Method: http.MethodPost, ContentLength: 10, ContentType: "text/plain"},
			want:     FailureBadRequest,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := ValidateEnvelope(testCase.envelope)
			if testCase.ok {
				if err != nil {
					t.Fatalf("expected envelope to pass, got %v", err)
				}
				return
			}
			expectFailureKind(t, err, testCase.want)
		})
	}
}

func TestProcessRejectsContentTypeBeforeDecode(t *testing.T) {
	fixture := newPipelineFixture(t)

	body := "not-even-a-token"
	env := jsonEnvelope(body)
	env.ContentType = "text/plain"

	expectFailureKind(t, fixture.pipeline.Process(env, body), FailureBadRequest)
}

func TestProcessRejectsMalformedToken(t *testing.T) {
	fixture := newPipelineFixture(t)

	body := "definitely.not-a-token"
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureBadRequest)
}

func TestProcessRejectsIssuerMismatch(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	body := makeToken(t, map[string]interface{}{
		"iss": "https://other.example.com",
		"aud": testClientID,
		"sub": "s1",
	})
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureBadRequest)
}

func TestProcessRejectsAudienceMismatch(t *testing.T) {
	fixture := newPipelineFixture(t)

	body := makeToken(t, map[string]interface{}{
		"iss": testIssuer,
		"aud": "someone-else",
		"sub": "s1",
	})
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureBadRequest)
}

func TestCreatedInviteProvisionsAccount(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	body := createdToken(t, "inv1", "s1", "a@x.com", authz.RoleSubscriber)
	if err := fixture.pipeline.Process(jsonEnvelope(body), body); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	account, err := fixture.directory.Resolve("s1")
	if err != nil {
		t.Fatalf("invitee account not linked: %v", err)
	}
	if account.Email != "a@x.com" || account.Role != authz.RoleSubscriber {
		t.Fatalf("unexpected invitee account: %+v", account)
	}

	lastToken, err := fixture.store.GetAttribute(account.ID, AttributeLastToken)
	if err != nil {
		t.Fatalf("get attribute failed: %v", err)
	}
	if lastToken != body {
		t.Fatal("expected last-token marker to hold the raw event")
	}
	provenance, err := fixture.store.GetAttribute(account.ID, AttributeInviteCreated)
	if err != nil {
		t.Fatalf("get attribute failed: %v", err)
	}
	if provenance == "" {
		t.Fatal("expected provenance marker to be written")
	}
}

func TestCreatedInviteReplayOnlyRefreshesTokenMarker(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	first := createdToken(t, "inv1", "s1", "a@x.com", authz.RoleSubscriber)
	if err := fixture.pipeline.Process(jsonEnvelope(first), first); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	account, err := fixture.directory.Resolve("s1")
	if err != nil {
		t.Fatalf("invitee account not linked: %v", err)
	}

	second := makeToken(t, map[string]interface{}{
		"iss":    testIssuer,
		"aud":    testClientID,
		"sub":    "s1",
		"email":  "a@x.com",
		"replay": true,
		"events": map[string]interface{}{
			EventInviteCreated: map[string]interface{}{
				"role":    authz.RoleSubscriber,
				"inviter": map[string]interface{}{"sub": "inv1"},
			},
		},
	})
	if err := fixture.pipeline.Process(jsonEnvelope(second), second); err != nil {
		t.Fatalf("replay process failed: %v", err)
	}

	replayed, err := fixture.directory.Resolve("s1")
	if err != nil {
		t.Fatalf("resolve after replay failed: %v", err)
	}
	if replayed.ID != account.ID {
		t.Fatal("expected replay to reuse the existing account")
	}
	if replayed.Role != authz.RoleSubscriber {
		t.Fatalf("expected role to be unchanged, got %q", replayed.Role)
	}

	lastToken, err := fixture.store.GetAttribute(account.ID, AttributeLastToken)
	if err != nil {
		t.Fatalf("get attribute failed: %v", err)
	}
	if lastToken != second {
		t.Fatal("expected last-token marker to be refreshed by the replay")
	}
}

func TestCreatedInviteAssignsRoleOnExistingAccount(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	invitee, err := fixture.store.Create(accounts.Seed{
		Login: "bob",
		Email: "b@x.com",
		Role:  authz.RoleSubscriber,
	})
	if err != nil {
		t.Fatalf("failed to seed invitee: %v", err)
	}
	if err := fixture.directory.Link(invitee.ID, "s2"); err != nil {
		t.Fatalf("failed to link invitee: %v", err)
	}

	body := createdToken(t, "inv1", "s2", "b@x.com", authz.RoleEditor)
	if err := fixture.pipeline.Process(jsonEnvelope(body), body); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	updated, err := fixture.store.Get(invitee.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Role != authz.RoleEditor {
		t.Fatalf("expected role assignment, got %q", updated.Role)
	}
	provenance, err := fixture.store.GetAttribute(invitee.ID, AttributeInviteCreated)
	if err != nil {
		t.Fatalf("get attribute failed: %v", err)
	}
	if provenance == "" {
		t.Fatal("expected provenance marker after role change")
	}
}

func TestCreatedInviteWithoutContactAddressNeverLinksOtherAccounts(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	// an unrelated account persisted without a contact address must not be
	// claimable by an event that carries none either
	orphan, err := fixture.store.Create(accounts.Seed{Login: "orphan"})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	body := makeToken(t, map[string]interface{}{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "sX",
		"events": map[string]interface{}{
			EventInviteCreated: map[string]interface{}{
				"role":    authz.RoleSubscriber,
				"inviter": map[string]interface{}{"sub": "inv1"},
			},
		},
	})
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureBadRequest)

	subject, err := fixture.directory.FindSubject(orphan.ID)
	if err != nil {
		t.Fatalf("find subject failed: %v", err)
	}
	if subject != "" {
		t.Fatalf("expected address-less account to stay unlinked, got %q", subject)
	}
	if _, err := fixture.directory.Resolve("sX"); err == nil {
		t.Fatal("expected no account to hold the invitee subject")
	}
	marker, err := fixture.store.GetAttribute(orphan.ID, AttributeLastToken)
	if err != nil {
		t.Fatalf("get attribute failed: %v", err)
	}
	if marker != "" {
		t.Fatal("expected no token marker on the unrelated account")
	}
}

func TestCreatedInviteUnknownRoleIsNotFound(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleAdministrator)

	body := createdToken(t, "inv1", "s1", "a@x.com", "superuser")
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureNotFound)
}

func TestCreatedInviteUnknownInviterIsNotFound(t *testing.T) {
	fixture := newPipelineFixture(t)

	body := createdToken(t, "ghost", "s1", "a@x.com", authz.RoleSubscriber)
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureNotFound)
}

func TestCreatedInviteRequiresCreateCapability(t *testing.T) {
	fixture := newPipelineFixture(t)
	fixture.seedInviter(t, "inv1", authz.RoleSubscriber)

	body := createdToken(t, "inv1", "s1", "a@x.com", authz.RoleSubscriber)
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureForbidden)

	if _, err := fixture.directory.Resolve("s1"); err == nil {
		t.Fatal("expected no account to be created")
	}
}

func TestCreatedInviteRequiresPromoteCapabilityForElevatedRoles(t *testing.T) {
	fixture := newPipelineFixture(t)
	// editors can create accounts but not promote them
	fixture.seedInviter(t, "inv1", authz.RoleEditor)

	body := createdToken(t, "inv1", "s1", "a@x.com", authz.RoleAdministrator)
	expectFailureKind(t, fixture.pipeline.Process(jsonEnvelope(body), body), FailureForbidden)

	if _, err := fixture.directory.Resolve("s1"); err == nil {
		t.Fatal("expected no account to be created")
	}
}

func TestRetractedAndDeclinedEventsAreAcceptedWithoutSideEffects(t *testing.T) {
	fixture := newPipelineFixture(t)

	for _, eventType := range []string{EventInviteRetracted, EventInviteDeclined} {
		body := makeToken(t, map[string]interface{}{
			"iss": testIssuer,
			"aud": testClientID,
			"sub": "s1",
			"events": map[string]interface{}{
				eventType: map[string]interface{}{},
			},
		})
		if err := fixture.pipeline.Process(jsonEnvelope(body), body); err != nil {
			t.Fatalf("event %q: expected acceptance, got %v", eventType, err)
		}
	}

	if _, err := fixture.directory.Resolve("s1"); err == nil {
		t.Fatal("expected no account to be provisioned")
	}
}

func TestUnrecognizedEventTypesAreIgnored(t *testing.T) {
	fixture := newPipelineFixture(t)

	body := makeToken(t, map[string]interface{}{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "s1",
		"events": map[string]interface{}{
			"invite/frobnicated": map[string]interface{}{},
		},
	})
	if err := fixture.pipeline.Process(jsonEnvelope(body), body); err != nil {
		t.Fatalf("expected unrecognized event to be ignored, got %v", err)
	}
}
