package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/internal/client"
	"github.com/healwise/apiserver/types"
)

type fakeAuth struct {
	mu       sync.Mutex
	users    map[string]types.User
	password map[string]string
	profiles map[int]types.RoleProfile
	// gate, when set, blocks Login until closed.
	gate    chan struct{}
	started chan struct{}
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:    map[string]types.User{},
		password: map[string]string{},
		profiles: map[int]types.RoleProfile{},
	}
}

func (f *fakeAuth) add(user types.User, password string, profile types.RoleProfile) {
	f.users[user.Email] = user
	f.password[user.Email] = password
	if profile != nil {
		f.profiles[user.ID] = profile
	}
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (client.Credentials, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[email]
	if !ok || f.password[email] != password {
		return client.Credentials{}, apperr.Authentication("invalid credentials")
	}
	return client.Credentials{Token: "tok-" + email, User: user}, nil
}

func (f *fakeAuth) Register(ctx context.Context, name, email, password string, role types.Role) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return types.User{}, apperr.Conflict("user already exists")
	}
	user := types.User{ID: len(f.users) + 1, Name: name, Email: email, Role: role}
	f.users[email] = user
	f.password[email] = password
	return user, nil
}

func (f *fakeAuth) Profile(ctx context.Context, token string) (types.RoleProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, u := range f.users {
		if "tok-"+email == token {
			if p, ok := f.profiles[u.ID]; ok {
				return p, nil
			}
		}
	}
	return nil, apperr.NotFound("profile not found")
}

func (f *fakeAuth) Lookup(role types.Role, userID int) (types.RoleProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[userID]; ok && p.ProfileRole() == role {
		return p, nil
	}
	return nil, apperr.NotFound("profile not found")
}

type recorder struct {
	mu     sync.Mutex
	routes []string
	toasts []Toast
}

func (r *recorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) Notify(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recorder) lastRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

func (r *recorder) lastToast() Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.toasts) == 0 {
		return Toast{}
	}
	return r.toasts[len(r.toasts)-1]
}

func newSession(auth *fakeAuth, store Store) (*Session, *recorder) {
	rec := &recorder{}
	return New(auth, store, WithNavigator(rec), WithNotifier(rec), WithProfiles(auth), WithProfileLookup(auth)), rec
}

func TestLoginSetsStateAndNavigates(t *testing.T) {
	tests := []struct {
		role    types.Role
		profile types.RoleProfile
		route   string
	}{
		{types.RolePatient, &types.Patient{ID: "p1", UserID: 1}, "/patient-dashboard"},
		{types.RoleDoctor, &types.Doctor{ID: "d1", UserID: 1}, "/doctor-dashboard"},
		{types.RoleAdmin, &types.Admin{ID: "a1", UserID: 1}, "/admin-dashboard"},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			auth := newFakeAuth()
			auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: tt.role}, "pw", tt.profile)
			store := NewMemoryStore()
			s, rec := newSession(auth, store)

			if err := s.Login(context.Background(), "a@x.com", "pw"); err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			user, ok := s.User()
			if !ok || user.Role != tt.role {
				t.Fatalf("User() = %+v, %v", user, ok)
			}
			if s.Token() != "tok-a@x.com" {
				t.Fatalf("Token() = %q", s.Token())
			}
			if s.Loading() {
				t.Fatal("Loading() should be false after login")
			}
			if rec.lastRoute() != tt.route {
				t.Fatalf("route = %q, want %q", rec.lastRoute(), tt.route)
			}
			toast := rec.lastToast()
			if toast.Title != "Login successful" || toast.Description != "Welcome back, Ann!" {
				t.Fatalf("toast = %+v", toast)
			}

			// Exactly one typed accessor is populated, matching the role.
			populated := 0
			if s.Patient() != nil {
				populated++
			}
			if s.Doctor() != nil {
				populated++
			}
			if s.Admin() != nil {
				populated++
			}
			if populated != 1 || s.Profile().ProfileRole() != tt.role {
				t.Fatalf("profile = %#v", s.Profile())
			}

			if _, ok, _ := store.Load(StorageKey); !ok {
				t.Fatal("expected user to be persisted")
			}
		})
	}
}

func TestLoginFailure(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw", nil)
	store := NewMemoryStore()
	s, rec := newSession(auth, store)

	err := s.Login(context.Background(), "a@x.com", "nope")
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("Login() error = %v", err)
	}
	if s.Authenticated() || s.Token() != "" || s.Loading() {
		t.Fatal("failed login must leave the session unauthenticated and idle")
	}
	toast := rec.lastToast()
	if toast.Title != "Login failed" || !toast.Destructive || toast.Description != "invalid credentials" {
		t.Fatalf("toast = %+v", toast)
	}
	if len(rec.routes) != 0 {
		t.Fatalf("unexpected navigation %v", rec.routes)
	}
	if _, ok, _ := store.Load(StorageKey); ok {
		t.Fatal("nothing should be persisted")
	}
}

func TestLoginWithoutProfile(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RoleDoctor}, "pw", nil)
	s, _ := newSession(auth, NewMemoryStore())

	if err := s.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.Profile() != nil {
		t.Fatalf("Profile() = %#v, want nil", s.Profile())
	}
}

func TestLoginIgnoresMismatchedProfile(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw", &types.Doctor{ID: "d1", UserID: 1})
	s, _ := newSession(auth, NewMemoryStore())

	if err := s.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.Profile() != nil {
		t.Fatalf("Profile() = %#v, want nil for a role mismatch", s.Profile())
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw", &types.Patient{ID: "p1", UserID: 1})
	store := NewMemoryStore()
	s, rec := newSession(auth, store)
	if err := s.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	s.Logout()

	if s.Authenticated() || s.Token() != "" || s.Profile() != nil || s.Patient() != nil {
		t.Fatal("Logout must clear user, token and profile")
	}
	if _, ok, _ := store.Load(StorageKey); ok {
		t.Fatal("Logout must remove the persisted entry")
	}
	if rec.lastRoute() != "/login" {
		t.Fatalf("route = %q", rec.lastRoute())
	}
	if toast := rec.lastToast(); toast.Title != "Logged out" || toast.Description != "You have been successfully logged out." {
		t.Fatalf("toast = %+v", toast)
	}
}

func TestLogoutDuringLogin(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw", nil)
	auth.gate = make(chan struct{})
	auth.started = make(chan struct{}, 1)
	store := NewMemoryStore()
	s, _ := newSession(auth, store)

	done := make(chan error, 1)
	go func() { done <- s.Login(context.Background(), "a@x.com", "pw") }()
	<-auth.started

	if !s.Loading() {
		t.Fatal("Loading() should be true while logging in")
	}
	if err := s.Login(context.Background(), "a@x.com", "pw"); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Login() error = %v, want ErrBusy", err)
	}
	if err := s.Register(context.Background(), "B", "b@x.com", "pw", types.RolePatient); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Register() error = %v, want ErrBusy", err)
	}

	s.Logout()
	close(auth.gate)

	if err := <-done; !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("Login() error = %v, want ErrLoggedOut", err)
	}
	if s.Authenticated() || s.Loading() {
		t.Fatal("a login interrupted by logout must not sign in")
	}
	if _, ok, _ := store.Load(StorageKey); ok {
		t.Fatal("nothing should be persisted")
	}
}

func TestRegister(t *testing.T) {
	auth := newFakeAuth()
	s, rec := newSession(auth, NewMemoryStore())

	if err := s.Register(context.Background(), "Ann", "a@x.com", "pw", types.RoleDoctor); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if s.Authenticated() {
		t.Fatal("Register must not sign in")
	}
	if rec.lastRoute() != "/login" {
		t.Fatalf("route = %q", rec.lastRoute())
	}
	if toast := rec.lastToast(); toast.Title != "Registration successful" || toast.Description != "Your account has been created. Please log in." {
		t.Fatalf("toast = %+v", toast)
	}

	err := s.Register(context.Background(), "Ann", "a@x.com", "pw", types.RoleDoctor)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate Register() error = %v", err)
	}
	if toast := rec.lastToast(); toast.Title != "Registration failed" || !toast.Destructive {
		t.Fatalf("toast = %+v", toast)
	}

	err = s.Register(context.Background(), "Root", "r@x.com", "pw", types.RoleAdmin)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("admin Register() error = %v", err)
	}
}

func TestHydrate(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		ok     bool
	}{
		{"valid", `{"id":3,"name":"Ann","email":"a@x.com","role":"doctor"}`, true},
		{"malformed", `{"id":`, false},
		{"unknown role", `{"id":3,"email":"a@x.com","role":"nurse"}`, false},
		{"missing id", `{"email":"a@x.com","role":"patient"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			_ = store.Save(StorageKey, []byte(tt.stored))
			auth := newFakeAuth()
			auth.profiles[3] = &types.Doctor{ID: "d3", UserID: 3, Specialty: "Dermatology"}

			s, _ := newSession(auth, store)
			if s.Loading() {
				t.Fatal("Loading() should be false after hydration")
			}
			user, ok := s.User()
			if ok != tt.ok {
				t.Fatalf("User() ok = %v, want %v", ok, tt.ok)
			}
			_, stored, _ := store.Load(StorageKey)
			if stored != tt.ok {
				t.Fatalf("stored entry present = %v, want %v", stored, tt.ok)
			}
			if s.Token() != "" {
				t.Fatalf("Token() = %q, want empty after restore", s.Token())
			}
			if !tt.ok {
				if s.Profile() != nil {
					t.Fatalf("Profile() = %#v, want nil", s.Profile())
				}
				return
			}
			if user.ID != 3 || user.Role != types.RoleDoctor {
				t.Fatalf("User() = %+v", user)
			}
			doc := s.Doctor()
			if doc == nil || doc.Specialty != "Dermatology" {
				t.Fatalf("Doctor() = %#v, want the restored doctor profile", doc)
			}
			if s.Patient() != nil || s.Admin() != nil {
				t.Fatal("only the doctor profile should be set")
			}
		})
	}
}

func TestHydrateWithoutMatchingProfile(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Save(StorageKey, []byte(`{"id":4,"name":"Bo","email":"b@x.com","role":"patient"}`))
	auth := newFakeAuth()
	// A doctor profile for a patient account is not a match.
	auth.profiles[4] = &types.Doctor{ID: "d4", UserID: 4}

	s, _ := newSession(auth, store)
	if !s.Authenticated() {
		t.Fatal("expected the saved user to be restored")
	}
	if s.Profile() != nil {
		t.Fatalf("Profile() = %#v, want nil", s.Profile())
	}

	bare := New(auth, store)
	if !bare.Authenticated() || bare.Profile() != nil {
		t.Fatal("without a lookup the user is restored with no profile")
	}
}

func TestLoginFallsBackToLookup(t *testing.T) {
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw",
		&types.Patient{ID: "p1", UserID: 1, BloodType: "O-"})
	s := New(auth, NewMemoryStore(), WithProfileLookup(auth))

	if err := s.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if p := s.Patient(); p == nil || p.BloodType != "O-" {
		t.Fatalf("Patient() = %#v", p)
	}
}

func TestFileStorePersistsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	auth := newFakeAuth()
	auth.add(types.User{ID: 1, Name: "Ann", Email: "a@x.com", Role: types.RolePatient}, "pw",
		&types.Patient{ID: "p1", UserID: 1})

	first, _ := newSession(auth, NewFileStore(path))
	if err := first.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second, _ := newSession(auth, NewFileStore(path))
	if user, ok := second.User(); !ok || user.Email != "a@x.com" {
		t.Fatalf("restored User() = %+v, %v", user, ok)
	}
	if second.Patient() == nil {
		t.Fatal("restored session should carry the patient profile")
	}

	second.Logout()
	third, _ := newSession(auth, NewFileStore(path))
	if third.Authenticated() {
		t.Fatal("logout must survive a restart")
	}
}

func TestFileStoreKeepsOtherKeys(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "s.json"))
	if err := store.Save("other", []byte("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(StorageKey, []byte("{}")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Remove(StorageKey); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	value, ok, err := store.Load("other")
	if err != nil || !ok || string(value) != "x" {
		t.Fatalf("Load(other) = %q, %v, %v", value, ok, err)
	}
}

func TestFromContext(t *testing.T) {
	s, _ := newSession(newFakeAuth(), NewMemoryStore())
	ctx := NewContext(context.Background(), s)
	if FromContext(ctx) != s {
		t.Fatal("FromContext() returned a different session")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("FromContext() without a session should panic")
		}
	}()
	FromContext(context.Background())
}

func TestLandingRoute(t *testing.T) {
	if got := LandingRoute("nurse"); got != RouteLogin {
		t.Fatalf("LandingRoute(nurse) = %q", got)
	}
}
