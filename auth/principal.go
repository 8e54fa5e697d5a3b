package auth

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/process-engine/types"
)

var (
	// ErrNoPrincipal is returned when a call carries no authenticated principal.
	ErrNoPrincipal = errors.New("no authenticated principal")
	// ErrPrincipalNotProjectable is returned for principal kinds that have no event user mapping.
	ErrPrincipalNotProjectable = errors.New("principal cannot be recorded as event user")
)

// Authenticated is the closed set of principal kinds a request can carry.
// The unexported method keeps other packages from adding variants.
type Authenticated interface {
	authenticated()
}

// User is an end user logged in with a national identity.
type User struct {
	UserID    int
	PartyID   int
	SSN       string
	AuthLevel int
}

// Org is an organisation acting through an enterprise certificate.
type Org struct {
	OrgNumber string
	PartyID   int
	AuthLevel int
}

// ServiceOwner is the organisation that owns the application.
type ServiceOwner struct {
	Name      string
	OrgNumber string
	AuthLevel int
}

// SystemUser is a machine principal acting on behalf of an owner organisation.
type SystemUser struct {
	SystemUserID    string
	SystemUserOrgNo string
	SupplierOrgNo   string
	AuthLevel       int
}

// SelfIdentifiedUser is a user registered with username and password only.
type SelfIdentifiedUser struct {
	Username string
	UserID   int
	PartyID  int
}

func (*User) authenticated()               {}
func (*Org) authenticated()                {}
func (*ServiceOwner) authenticated()       {}
func (*SystemUser) authenticated()         {}
func (*SelfIdentifiedUser) authenticated() {}

// ToPlatformUser projects a principal onto the acting user recorded on instance events.
// Organisations have no agreed mapping yet and yield ErrPrincipalNotProjectable.
func ToPlatformUser(principal Authenticated) (types.PlatformUser, error) {
	switch p := principal.(type) {
	case *User:
		return types.PlatformUser{
			UserID:                 p.UserID,
			AuthenticationLevel:    p.AuthLevel,
			NationalIdentityNumber: p.SSN,
		}, nil
	case *ServiceOwner:
		return types.PlatformUser{
			OrgID:               p.Name,
			AuthenticationLevel: p.AuthLevel,
		}, nil
	case *SystemUser:
		return types.PlatformUser{
			SystemUserID:         p.SystemUserID,
			SystemUserOwnerOrgNo: p.SystemUserOrgNo,
			AuthenticationLevel:  p.AuthLevel,
		}, nil
	case *SelfIdentifiedUser:
		return types.PlatformUser{
			UserID:              p.UserID,
			AuthenticationLevel: 0,
		}, nil
	case *Org:
		return types.PlatformUser{}, fmt.Errorf("%w: organisation %s", ErrPrincipalNotProjectable, p.OrgNumber)
	case nil:
		return types.PlatformUser{}, ErrNoPrincipal
	default:
		return types.PlatformUser{}, fmt.Errorf("%w: %T", ErrPrincipalNotProjectable, principal)
	}
}
