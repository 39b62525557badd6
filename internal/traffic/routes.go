package traffic

import "strings"

// Class identifies which rate-limit bucket a request draws from. Global is
// both a class of its own and a meta-limit applied to every request.
type Class int

const (
	Global Class = iota
	Catalog
	Competitor
	Care

	numClasses = 4
)

func (c Class) String() string {
	switch c {
	case Global:
		return "GLOBAL"
	case Catalog:
		return "CATALOG"
	case Competitor:
		return "COMPETITOR"
	case Care:
		return "CARE"
	}
	return "UNKNOWN"
}

// route maps a URL substring to a bucket class. First match wins.
type route struct {
	fragment string
	class    Class
}

// defaultRoutes is the classification table for the marketplace API.
// Kept as data so call sites never branch on paths themselves.
var defaultRoutes = []route{
	{"/competitors/", Competitor},
	{"/backbox/", Competitor},
	{"/sav/", Care},
	{"/messages", Care},
	{"/buyback/", Care},
	{"/listings", Catalog},
	{"/tasks/", Catalog},
}

// Classify returns the bucket class for a URL. Unmatched URLs fall through
// to the Global class.
func Classify(url string) Class {
	for _, r := range defaultRoutes {
		if strings.Contains(url, r.fragment) {
			return r.class
		}
	}
	return Global
}
