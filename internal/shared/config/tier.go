package config

import "fmt"

// LogTier selects which durable logs are written for a match.
// Each tier enables everything the previous one did.
type LogTier int

const (
	// TierNone logs nothing
	TierNone LogTier = iota
	// TierRevisions logs revision IDs to the ledger
	TierRevisions
	// TierFlags also records flagged changes in the flag store
	TierFlags
	// TierContent also archives the matched content
	TierContent
)

// Valid reports whether the tier is within [0,3]
func (t LogTier) Valid() bool {
	return t >= TierNone && t <= TierContent
}

func (t LogTier) LogsRevisions() bool { return t >= TierRevisions }

func (t LogTier) LogsFlags() bool { return t >= TierFlags }

func (t LogTier) ArchivesContent() bool { return t >= TierContent }

func (t LogTier) String() string {
	switch t {
	case TierNone:
		return "0 (nothing)"
	case TierRevisions:
		return "1 (revision IDs)"
	case TierFlags:
		return "2 (revision IDs, flagged changes)"
	case TierContent:
		return "3 (revision IDs, flagged changes, content)"
	default:
		return fmt.Sprintf("%d (invalid)", int(t))
	}
}
