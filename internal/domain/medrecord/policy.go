package medrecord

// Authoring roles. AuthorRole is stamped server-side from the session; any
// role value arriving in a request body is discarded.
const (
	RoleDoctor = "doctor"
	RoleNurse  = "nurse"
)

// soapFields names the doctor-only sections for error reporting.
var soapFields = []struct {
	name string
	get  func(*Record) *string
}{
	{"subjective", func(r *Record) *string { return r.Subjective }},
	{"objective", func(r *Record) *string { return r.Objective }},
	{"assessment", func(r *Record) *string { return r.Assessment }},
	{"plan", func(r *Record) *string { return r.Plan }},
}

// ValidateAuthoring rejects a record that sets fields outside the author
// role's allowed set. Doctors may write everything; nurses are limited to
// progress notes and instructions.
func ValidateAuthoring(r *Record, role string) error {
	switch role {
	case RoleDoctor:
		return nil
	case RoleNurse:
		for _, f := range soapFields {
			if f.get(r) != nil {
				return &RoleMismatchError{Role: role, Field: f.name}
			}
		}
		return nil
	default:
		return &RoleMismatchError{Role: role, Field: "any"}
	}
}

// StampAuthor overwrites the record's author fields with server-derived
// values, closing the impersonation gap of trusting the request body.
func StampAuthor(r *Record, actorID, role string) {
	r.AuthorID = actorID
	r.AuthorRole = role
}
