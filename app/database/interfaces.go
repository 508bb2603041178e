package database

type EntryRepositoryInterface interface {
	CreateEntry(entry Entry) (*Entry, error)
	GetEntry(id string) (*Entry, error)
	ListEntries() ([]Entry, error)
	ListAutoDialEntries() ([]Entry, error)
	UpdateEntry(id string, update EntryUpdate) (*Entry, error)
	DeleteEntry(id string) error
	GetEntryCount() (int, error)
}

var _ EntryRepositoryInterface = (*EntryRepository)(nil)
