package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"zalo-connector-go/internal/domain/account"
	"zalo-connector-go/internal/domain/login"
	platformerrors "zalo-connector-go/internal/platform/errors"
	platformtesting "zalo-connector-go/internal/platform/testing"
	"zalo-connector-go/internal/store"
)

// fakeStore is an in-memory credential store.
type fakeStore struct {
	mu          sync.Mutex
	creds       []store.Credential
	nextID      int
	patchErr    error
	putErr      error
	listErr     error
	createErr   error
	listCalls   int
	patchCalls  int
	putCalls    int
	createCalls int
}

func (f *fakeStore) List(context.Context) ([]store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.Credential, len(f.creds))
	copy(out, f.creds)
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.ID == id {
			return c, nil
		}
	}
	return store.Credential{}, errors.New("not found")
}

func (f *fakeStore) Patch(_ context.Context, id string, req store.UpdateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	if f.patchErr != nil {
		return f.patchErr
	}
	for i := range f.creds {
		if f.creds[i].ID == id {
			f.creds[i].Name = req.Name
			f.creds[i].Data = req.Data
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeStore) Put(_ context.Context, id string, req store.ReplaceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	for i := range f.creds {
		if f.creds[i].ID == id {
			f.creds[i].Name = req.Name
			f.creds[i].Type = req.Type
			f.creds[i].NodesAccess = req.NodesAccess
			f.creds[i].Data = req.Data
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeStore) Create(_ context.Context, req store.ReplaceRequest) (store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return store.Credential{}, f.createErr
	}
	f.nextID++
	cred := store.Credential{
		ID:          fmt.Sprintf("cred-%d", f.nextID),
		Name:        req.Name,
		Type:        req.Type,
		NodesAccess: req.NodesAccess,
		Data:        req.Data,
	}
	f.creds = append(f.creds, cred)
	return cred, nil
}

func (f *fakeStore) byPhone(phone string) []store.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Credential
	for _, c := range f.creds {
		if c.Type == "zaloApi" && c.Data.PhoneNumber == phone {
			out = append(out, c)
		}
	}
	return out
}

func testSecrets(tag string) login.SessionSecrets {
	return login.SessionSecrets{
		Cookie:    json.RawMessage(`[{"name":"zpsid","value":"` + tag + `"}]`),
		IMEI:      "imei-" + tag,
		UserAgent: "ua-" + tag,
	}
}

func newReconciler(t *testing.T, fs *fakeStore) *Reconciler {
	t.Helper()
	return NewReconciler(fs, "zaloApi", platformtesting.SetupTestLogger(t))
}

func TestReconcile_CreatesWhenNoMatch(t *testing.T) {
	fs := &fakeStore{}
	r := newReconciler(t, fs)

	action, err := r.Reconcile(context.Background(), testSecrets("a"),
		account.Profile{UserID: "1", DisplayName: "Alice", PhoneNumber: "0901234567"}, "http://proxy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if action.Kind != ActionCreated {
		t.Fatalf("action = %+v, expected created", action)
	}
	creds := fs.byPhone("0901234567")
	if len(creds) != 1 {
		t.Fatalf("credentials for phone = %d, expected 1", len(creds))
	}
	if creds[0].Name != "Alice - 0901234567" {
		t.Errorf("name = %q", creds[0].Name)
	}
	if creds[0].Data.Proxy != "http://proxy" {
		t.Errorf("proxy = %q, operator proxy should be used on create", creds[0].Data.Proxy)
	}
}

func TestReconcile_IdempotentOnPhoneNumber(t *testing.T) {
	fs := &fakeStore{}
	r := newReconciler(t, fs)
	profile := account.Profile{UserID: "1", DisplayName: "Alice", PhoneNumber: "0901234567"}

	first, err := r.Reconcile(context.Background(), testSecrets("one"), profile, "")
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := r.Reconcile(context.Background(), testSecrets("two"), profile, "")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if first.Kind != ActionCreated || second.Kind != ActionUpdated {
		t.Errorf("actions = %v then %v, expected created then updated", first.Kind, second.Kind)
	}
	if second.CredentialID != first.CredentialID {
		t.Errorf("second reconcile touched %s, expected %s", second.CredentialID, first.CredentialID)
	}

	creds := fs.byPhone("0901234567")
	if len(creds) != 1 {
		t.Fatalf("store ended with %d credentials for the phone, expected exactly 1", len(creds))
	}
	if creds[0].Data.IMEI != "imei-two" {
		t.Errorf("secrets not refreshed: %+v", creds[0].Data)
	}
}

func TestReconcile_ExistingProxyWinsOnUpdate(t *testing.T) {
	fs := &fakeStore{creds: []store.Credential{{
		ID:   "cred-old",
		Name: "old",
		Type: "zaloApi",
		Data: store.CredentialData{PhoneNumber: "0901234567", Proxy: "socks5://old"},
	}}}
	r := newReconciler(t, fs)

	action, err := r.Reconcile(context.Background(), testSecrets("a"),
		account.Profile{DisplayName: "Alice", PhoneNumber: "0901234567"}, "http://new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if action.Kind != ActionUpdated || action.CredentialID != "cred-old" {
		t.Fatalf("action = %+v", action)
	}
	got := fs.byPhone("0901234567")[0]
	if got.Data.Proxy != "socks5://old" {
		t.Errorf("proxy = %q, stored proxy must win over operator proxy", got.Data.Proxy)
	}
	if got.Name != "Alice - 0901234567" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestReconcile_EmptyPhoneNeverSearches(t *testing.T) {
	fs := &fakeStore{creds: []store.Credential{{
		ID: "x", Type: "zaloApi", Data: store.CredentialData{PhoneNumber: ""},
	}}}
	r := newReconciler(t, fs)

	action, err := r.Reconcile(context.Background(), testSecrets("a"), account.Profile{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if action.Kind != ActionCreated {
		t.Errorf("action = %v, empty phone must always create", action.Kind)
	}
	if fs.listCalls != 0 {
		t.Errorf("listCalls = %d, empty phone must not search", fs.listCalls)
	}
	if action.Name != "Zalo API Credentials" {
		t.Errorf("name = %q, expected fixed fallback label", action.Name)
	}
}

func TestReconcile_PatchFallsBackToPut(t *testing.T) {
	fs := &fakeStore{
		creds: []store.Credential{{
			ID:   "cred-1",
			Type: "zaloApi",
			Data: store.CredentialData{PhoneNumber: "0901234567", Proxy: "p1"},
		}},
		patchErr: store.ErrMethodNotSupported,
	}
	r := newReconciler(t, fs)

	action, err := r.Reconcile(context.Background(), testSecrets("a"),
		account.Profile{DisplayName: "Alice", PhoneNumber: "0901234567"}, "p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fs.patchCalls != 1 || fs.putCalls != 1 {
		t.Errorf("patch=%d put=%d, expected patch then put", fs.patchCalls, fs.putCalls)
	}
	if action.Kind != ActionUpdated {
		t.Errorf("action = %v", action.Kind)
	}
	got := fs.byPhone("0901234567")[0]
	if got.Type != "zaloApi" {
		t.Errorf("full replace must re-submit type, got %q", got.Type)
	}
	if got.Data.Proxy != "p1" {
		t.Errorf("proxy = %q", got.Data.Proxy)
	}
}

func TestReconcile_AllStrategiesFail(t *testing.T) {
	fs := &fakeStore{
		creds: []store.Credential{{
			ID: "cred-1", Type: "zaloApi",
			Data: store.CredentialData{PhoneNumber: "0901234567"},
		}},
		patchErr: store.ErrMethodNotSupported,
		putErr:   errors.New("validation rejected"),
	}
	r := newReconciler(t, fs)

	_, err := r.Reconcile(context.Background(), testSecrets("a"),
		account.Profile{PhoneNumber: "0901234567"}, "")
	if err == nil {
		t.Fatal("expected error when every strategy fails")
	}
	if !platformerrors.IsKind(err, platformerrors.KindReconcile) {
		t.Errorf("expected reconcile kind, got %v", err)
	}
}

func TestReconcile_OtherTypesIgnoredInSearch(t *testing.T) {
	fs := &fakeStore{creds: []store.Credential{{
		ID: "foreign", Type: "httpBasicAuth",
		Data: store.CredentialData{PhoneNumber: "0901234567"},
	}}}
	r := newReconciler(t, fs)

	action, err := r.Reconcile(context.Background(), testSecrets("a"),
		account.Profile{PhoneNumber: "0901234567"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != ActionCreated {
		t.Errorf("matched a credential of another type: %+v", action)
	}
}

func TestCredentialName(t *testing.T) {
	tests := []struct {
		profile account.Profile
		want    string
	}{
		{account.Profile{DisplayName: "Alice", PhoneNumber: "0901"}, "Alice - 0901"},
		{account.Profile{DisplayName: "Alice"}, "Alice"},
		{account.Profile{PhoneNumber: "0901"}, "0901"},
		{account.Profile{UserID: "77"}, "Zalo Account - 77"},
		{account.Profile{}, "Zalo API Credentials"},
	}

	for _, tt := range tests {
		if got := credentialName(tt.profile); got != tt.want {
			t.Errorf("credentialName(%+v) = %q, expected %q", tt.profile, got, tt.want)
		}
	}
}
