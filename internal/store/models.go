package store

// DeliveryRecord is the per-edition progress state, keyed by the canonical
// edition key. It is created on first touch and only ever gains fields; a
// later step's failure never clears an earlier channel's timestamp.
type DeliveryRecord struct {
	EditionKey       string
	Title            string
	PublicationDate  *string
	SourceURL        *string
	LocalFile        *string
	IngestSource     *string // "live", "backfill" or "import"
	ProcessedAt      *string
	DownloadedAt     *string
	EmailSentAt      *string
	UploadedAt       *string
	ArchivedAt       *string
	ArchiveURL       *string
	ArchivePath      *string
	ArchiveContainer *string
	ArchiveSize      *int64
}

// Publication is one catalog entry. The id is internal and stable; the
// subscription id/number link it to the portal account and may change on
// provider-side renewal.
type Publication struct {
	ID                 string
	Name               string
	SubscriptionID     *string
	SubscriptionNumber *string
	ValidFrom          *string
	ValidUntil         *string
	EmailEnabled       bool
	UploadEnabled      bool
	Folder             string
	OrganizeByYear     bool
	IsActive           bool
	FirstSeen          *string
	LastSeen           *string
	UpdatedAt          *string
}

// Recipient is one delivery target.
type Recipient struct {
	ID        string
	Email     string
	IsActive  bool
	CreatedAt *string
}

// Preference is a recipient's per-publication delivery settings. Nil fields
// inherit the publication's defaults; eligibility itself is strictly opt-in
// through the Enabled flag.
type Preference struct {
	RecipientID    string
	PublicationID  string
	Enabled        bool
	EmailEnabled   *bool
	UploadEnabled  *bool
	Folder         *string
	OrganizeByYear *bool
	Position       int
	SendCount      int
	LastSentAt     *string
}

// RecipientPreference pairs a recipient with their preference entry for one
// publication.
type RecipientPreference struct {
	Recipient Recipient
	Pref      Preference
}

// RecordFilter narrows ListRecords output.
type RecordFilter struct {
	TitleLike      string // substring match on the stored title
	Since          string // ISO date; records processed on or after
	MissingChannel string // "download", "email", "upload" or "archive"
	Limit          int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Editions           int
	Downloaded         int
	Emailed            int
	Uploaded           int
	Archived           int
	Publications       int
	ActivePublications int
	Recipients         int
	ActiveRecipients   int
	Preferences        int
}
