package types

// RoleProfile is the role-specific attribute set of a user. Exactly one of
// *Patient, *Doctor or *Admin implements it for a given account.
type RoleProfile interface {
	ProfileRole() Role
	OwnerID() int
}

// Patient holds patient-specific attributes.
type Patient struct {
	ID             string   `json:"id"`
	UserID         int      `json:"user_id"`
	DateOfBirth    string   `json:"date_of_birth,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Address        string   `json:"address,omitempty"`
	BloodType      string   `json:"blood_type,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	MedicalHistory []string `json:"medical_history,omitempty"`
}

func (p *Patient) ProfileRole() Role { return RolePatient }
func (p *Patient) OwnerID() int      { return p.UserID }

// Doctor holds doctor-specific attributes.
type Doctor struct {
	ID                string   `json:"id"`
	UserID            int      `json:"user_id"`
	Specialty         string   `json:"specialty"`
	LicenseNumber     string   `json:"license_number,omitempty"`
	YearsOfExperience int      `json:"years_of_experience,omitempty"`
	Bio               string   `json:"bio,omitempty"`
	Availability      []string `json:"availability,omitempty"`
	ConsultationFee   float64  `json:"consultation_fee,omitempty"`
}

func (d *Doctor) ProfileRole() Role { return RoleDoctor }
func (d *Doctor) OwnerID() int      { return d.UserID }

// Admin holds administrator-specific attributes.
type Admin struct {
	ID          string   `json:"id"`
	UserID      int      `json:"user_id"`
	Department  string   `json:"department,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (a *Admin) ProfileRole() Role { return RoleAdmin }
func (a *Admin) OwnerID() int      { return a.UserID }
