// Package profiles holds the fixed role-profile dataset and resolves the
// profile that belongs to an authenticated user.
package profiles

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/types"
)

// ErrNotFound is returned when a user has no profile of their role.
var ErrNotFound = apperr.NotFound("profile not found")

// Dataset is the read-only set of role profiles keyed by user id.
type Dataset struct {
	patients map[int]*types.Patient
	doctors  map[int]*types.Doctor
	admins   map[int]*types.Admin
}

type datasetFile struct {
	Patients []types.Patient `json:"patients"`
	Doctors  []types.Doctor  `json:"doctors"`
	Admins   []types.Admin   `json:"admins"`
}

// Empty returns a dataset with no profiles.
func Empty() *Dataset {
	return &Dataset{
		patients: map[int]*types.Patient{},
		doctors:  map[int]*types.Doctor{},
		admins:   map[int]*types.Admin{},
	}
}

// New builds a dataset from profile slices. Duplicate owners within a role
// are rejected.
func New(patients []types.Patient, doctors []types.Doctor, admins []types.Admin) (*Dataset, error) {
	ds := Empty()
	for i := range patients {
		p := patients[i]
		if err := checkOwner("patient", p.UserID, ds.patients[p.UserID] != nil); err != nil {
			return nil, err
		}
		ds.patients[p.UserID] = &p
	}
	for i := range doctors {
		d := doctors[i]
		if err := checkOwner("doctor", d.UserID, ds.doctors[d.UserID] != nil); err != nil {
			return nil, err
		}
		ds.doctors[d.UserID] = &d
	}
	for i := range admins {
		a := admins[i]
		if err := checkOwner("admin", a.UserID, ds.admins[a.UserID] != nil); err != nil {
			return nil, err
		}
		ds.admins[a.UserID] = &a
	}
	return ds, nil
}

func checkOwner(kind string, userID int, duplicate bool) error {
	if userID < 1 {
		return fmt.Errorf("%s profile has invalid user_id %d", kind, userID)
	}
	if duplicate {
		return fmt.Errorf("duplicate %s profile for user %d", kind, userID)
	}
	return nil
}

// Decode reads a JSON dataset of the form
// {"patients":[...],"doctors":[...],"admins":[...]}.
func Decode(r io.Reader) (*Dataset, error) {
	var file datasetFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return New(file.Patients, file.Doctors, file.Admins)
}

// Lookup resolves the profile matching role for userID. The returned value
// is one of *types.Patient, *types.Doctor or *types.Admin.
func (d *Dataset) Lookup(role types.Role, userID int) (types.RoleProfile, error) {
	switch role {
	case types.RolePatient:
		if p, ok := d.patients[userID]; ok {
			return p, nil
		}
	case types.RoleDoctor:
		if doc, ok := d.doctors[userID]; ok {
			return doc, nil
		}
	case types.RoleAdmin:
		if a, ok := d.admins[userID]; ok {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// Len returns the number of profiles across all roles.
func (d *Dataset) Len() int {
	return len(d.patients) + len(d.doctors) + len(d.admins)
}
