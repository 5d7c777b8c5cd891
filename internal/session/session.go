// Package session holds the client-side view of who is signed in: the
// account, its token and its role profile. The account survives restarts
// through a Store under a single key; its profile is looked up again on
// restore.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/internal/client"
	"github.com/healwise/apiserver/types"
)

// StorageKey is the Store key holding the serialized user.
const StorageKey = "healwise_user"

// Routes the session navigates to.
const (
	RouteLogin            = "/login"
	RoutePatientDashboard = "/patient-dashboard"
	RouteDoctorDashboard  = "/doctor-dashboard"
	RouteAdminDashboard   = "/admin-dashboard"
)

var (
	// ErrBusy is returned when Login or Register is called while another
	// one is still running.
	ErrBusy = errors.New("session: another request is in flight")
	// ErrLoggedOut is returned by a Login that finished after Logout; its
	// result is discarded.
	ErrLoggedOut = errors.New("session: logged out while logging in")
)

// Authenticator performs the network side of login and registration.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (client.Credentials, error)
	Register(ctx context.Context, name, email, password string, role types.Role) (types.User, error)
}

// ProfileResolver fetches the role profile of the token's owner.
type ProfileResolver interface {
	Profile(ctx context.Context, token string) (types.RoleProfile, error)
}

// ProfileLookup finds a role profile by owner, without a token. Restored
// sessions have no token, so hydration goes through it.
type ProfileLookup interface {
	Lookup(role types.Role, userID int) (types.RoleProfile, error)
}

// Navigator moves the user to a route.
type Navigator interface {
	Navigate(route string)
}

// Toast is a user-facing notification.
type Toast struct {
	Title       string
	Description string
	Destructive bool
}

// Notifier shows toasts.
type Notifier interface {
	Notify(t Toast)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Navigate calls f(route).
func (f NavigatorFunc) Navigate(route string) { f(route) }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(t Toast)

// Notify calls f(t).
func (f NotifierFunc) Notify(t Toast) { f(t) }

// Option customizes a Session.
type Option func(*Session)

// WithNavigator sends route changes to n. The default discards them.
func WithNavigator(n Navigator) Option {
	return func(s *Session) {
		if n != nil {
			s.nav = n
		}
	}
}

// WithNotifier sends toasts to n. The default discards them.
func WithNotifier(n Notifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithProfiles enables role profile lookups after login.
func WithProfiles(r ProfileResolver) Option {
	return func(s *Session) {
		s.profiles = r
	}
}

// WithProfileLookup resolves the profile of a restored user through l. It
// also serves Login when no ProfileResolver is set.
func WithProfileLookup(l ProfileLookup) Option {
	return func(s *Session) {
		s.lookup = l
	}
}

// Session is safe for concurrent use. Network calls run without holding
// the lock.
type Session struct {
	auth     Authenticator
	profiles ProfileResolver
	lookup   ProfileLookup
	store    Store
	nav      Navigator
	notify   Notifier

	mu       sync.RWMutex
	user     *types.User
	token    string
	profile  types.RoleProfile
	loading  bool
	inflight bool
	// epoch is bumped by Logout so a Login racing with it can tell.
	epoch uint64
}

// New builds a Session and restores the user saved in store together with
// the matching role profile. Invalid saved data is removed. A restored
// session has no token until the next Login.
func New(auth Authenticator, store Store, opts ...Option) *Session {
	s := &Session{
		auth:    auth,
		store:   store,
		nav:     NavigatorFunc(func(string) {}),
		notify:  NotifierFunc(func(Toast) {}),
		loading: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hydrate()
	return s
}

func (s *Session) hydrate() {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	data, ok, err := s.store.Load(StorageKey)
	if err != nil {
		slog.Warn("session store unreadable", "error", err)
		return
	}
	if !ok {
		return
	}
	user, err := decodeUser(data)
	if err != nil {
		slog.Warn("discarding saved session", "error", err)
		if err := s.store.Remove(StorageKey); err != nil {
			slog.Warn("remove saved session", "error", err)
		}
		return
	}

	profile := s.lookupProfile(user)

	s.mu.Lock()
	s.user = &user
	s.profile = profile
	s.mu.Unlock()
}

func decodeUser(data []byte) (types.User, error) {
	var user types.User
	if err := json.Unmarshal(data, &user); err != nil {
		return types.User{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID < 1 || user.Email == "" || !user.Role.Valid() {
		return types.User{}, fmt.Errorf("saved user is incomplete: id=%d role=%q", user.ID, user.Role)
	}
	return user, nil
}

// LandingRoute returns the dashboard for role.
func LandingRoute(role types.Role) string {
	switch role {
	case types.RolePatient:
		return RoutePatientDashboard
	case types.RoleDoctor:
		return RouteDoctorDashboard
	case types.RoleAdmin:
		return RouteAdminDashboard
	default:
		return RouteLogin
	}
}

// begin marks a request in flight. It returns the epoch the request
// started in.
func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return 0, ErrBusy
	}
	s.inflight = true
	s.loading = true
	return s.epoch, nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inflight = false
	s.loading = false
	s.mu.Unlock()
}

// Login authenticates, stores the result and navigates to the user's
// dashboard. Failures are reported through the notifier and returned.
func (s *Session) Login(ctx context.Context, email, password string) error {
	epoch, err := s.begin()
	if err != nil {
		return err
	}

	creds, err := s.auth.Login(ctx, email, password)
	if err != nil {
		s.end()
		s.notify.Notify(Toast{Title: "Login failed", Description: describe(err), Destructive: true})
		return err
	}
	profile := s.resolveProfile(ctx, creds)

	data, err := json.Marshal(creds.User)
	if err != nil {
		s.end()
		err = apperr.Internal("encode session", err)
		s.notify.Notify(Toast{Title: "Login failed", Description: describe(err), Destructive: true})
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.inflight = false
		s.loading = false
		s.mu.Unlock()
		return ErrLoggedOut
	}
	user := creds.User
	s.user = &user
	s.token = creds.Token
	s.profile = profile
	if err := s.store.Save(StorageKey, data); err != nil {
		slog.Warn("persist session", "error", err)
	}
	s.inflight = false
	s.loading = false
	s.mu.Unlock()

	s.notify.Notify(Toast{Title: "Login successful", Description: fmt.Sprintf("Welcome back, %s!", user.Name)})
	s.nav.Navigate(LandingRoute(user.Role))
	return nil
}

// resolveProfile returns the profile matching the user's role, or nil when
// none is available. A missing profile does not fail the login.
func (s *Session) resolveProfile(ctx context.Context, creds client.Credentials) types.RoleProfile {
	if s.profiles == nil {
		return s.lookupProfile(creds.User)
	}
	profile, err := s.profiles.Profile(ctx, creds.Token)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.Warn("load profile", "user_id", creds.User.ID, "error", err)
		}
		return nil
	}
	return matchProfile(profile, creds.User)
}

func (s *Session) lookupProfile(user types.User) types.RoleProfile {
	if s.lookup == nil {
		return nil
	}
	profile, err := s.lookup.Lookup(user.Role, user.ID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.Warn("look up profile", "user_id", user.ID, "error", err)
		}
		return nil
	}
	return matchProfile(profile, user)
}

// matchProfile drops a profile that belongs to another user or role.
func matchProfile(profile types.RoleProfile, user types.User) types.RoleProfile {
	if profile == nil {
		return nil
	}
	if profile.ProfileRole() != user.Role || profile.OwnerID() != user.ID {
		slog.Warn("profile does not match user", "user_id", user.ID, "profile_role", profile.ProfileRole())
		return nil
	}
	return profile
}

// Register creates an account and sends the user to the login page. It
// does not sign in.
func (s *Session) Register(ctx context.Context, name, email, password string, role types.Role) error {
	if role == "" {
		role = types.RolePatient
	}
	if !role.SelfAssignable() {
		err := apperr.Validation("role must be patient or doctor")
		s.notify.Notify(Toast{Title: "Registration failed", Description: describe(err), Destructive: true})
		return err
	}

	if _, err := s.begin(); err != nil {
		return err
	}
	_, err := s.auth.Register(ctx, name, email, password, role)
	s.end()
	if err != nil {
		s.notify.Notify(Toast{Title: "Registration failed", Description: describe(err), Destructive: true})
		return err
	}

	s.notify.Notify(Toast{Title: "Registration successful", Description: "Your account has been created. Please log in."})
	s.nav.Navigate(RouteLogin)
	return nil
}

// Logout clears everything, including the saved entry. It may be called
// while a Login is running; that Login's result is then dropped.
func (s *Session) Logout() {
	s.mu.Lock()
	s.epoch++
	s.user = nil
	s.token = ""
	s.profile = nil
	if err := s.store.Remove(StorageKey); err != nil {
		slog.Warn("remove saved session", "error", err)
	}
	s.mu.Unlock()

	s.nav.Navigate(RouteLogin)
	s.notify.Notify(Toast{Title: "Logged out", Description: "You have been successfully logged out."})
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "An unknown error occurred"
}

// User returns the signed-in user.
func (s *Session) User() (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return types.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a user is present.
func (s *Session) Authenticated() bool {
	_, ok := s.User()
	return ok
}

// Token returns the access token of the current login, empty after a
// restore from the store.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Loading reports whether hydration or a Login/Register is in progress.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Profile returns the role profile, or nil.
func (s *Session) Profile() types.RoleProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Patient returns the profile when the user is a patient, or nil.
func (s *Session) Patient() *types.Patient {
	p, _ := s.Profile().(*types.Patient)
	return p
}

// Doctor returns the profile when the user is a doctor, or nil.
func (s *Session) Doctor() *types.Doctor {
	d, _ := s.Profile().(*types.Doctor)
	return d
}

// Admin returns the profile when the user is an admin, or nil.
func (s *Session) Admin() *types.Admin {
	a, _ := s.Profile().(*types.Admin)
	return a
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the Session installed by NewContext. It panics when
// there is none.
func FromContext(ctx context.Context) *Session {
	s, ok := ctx.Value(contextKey{}).(*Session)
	if !ok || s == nil {
		panic("session: FromContext called without a Session in the context")
	}
	return s
}
