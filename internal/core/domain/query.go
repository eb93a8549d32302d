package domain

// PageMeta mirrors the remote API's pagination envelope.
type PageMeta struct {
	CurrentPage     int    `json:"currentPage"`
	PerPage         int    `json:"perPage"`
	Total           int    `json:"total"`
	LastPage        int    `json:"lastPage"`
	FirstPage       int    `json:"firstPage"`
	FirstPageURL    string `json:"firstPageUrl"`
	LastPageURL     string `json:"lastPageUrl"`
	NextPageURL     string `json:"nextPageUrl"`
	PreviousPageURL string `json:"previousPageUrl"`
}

// ListFilter is the common pagination/search slice of every listing.
type ListFilter struct {
	Page   int
	Limit  int
	Search string
}

// ActorFilter narrows actor listings.
type ActorFilter struct {
	ListFilter
	Type   ActorType
	Region string
	Active *bool
}

// ConventionFilter narrows convention listings.
type ConventionFilter struct {
	ListFilter
	Status     string
	ProducerID string
	BuyerID    string
	CampaignID string
}

// StoreFilter narrows storage-facility listings.
type StoreFilter struct {
	ListFilter
	Region string
	Active *bool
}
