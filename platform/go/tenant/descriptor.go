package tenant

import (
	"errors"
	"fmt"
	"strconv"
)

// Descriptor is the full set of parameters needed to open a tenant database connection.
// It is always replaced as a whole, never merged with a previous value.
type Descriptor struct {
	Host     string
	Port     uint16
	Database string
	Username string
	Password string
}

// Validate checks that every field needed to dial is present.
func (d Descriptor) Validate() error {
	switch {
	case d.Host == "":
		return errors.New("descriptor host is required")
	case d.Port == 0:
		return errors.New("descriptor port is required")
	case d.Database == "":
		return errors.New("descriptor database is required")
	case d.Username == "":
		return errors.New("descriptor username is required")
	}
	return nil
}

// Address returns host:port.
func (d Descriptor) Address() string {
	return d.Host + ":" + strconv.Itoa(int(d.Port))
}

// String never includes the password.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s@%s/%s", d.Username, d.Address(), d.Database)
}
