package ids

import "errors"

var errNilID = errors.New("participant id must not be nil")
