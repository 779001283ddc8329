package models

// AccessRule is an entry of a key pair's embedded access list. A rule
// grants access to Resources either for explicit Users or for every user
// listed by the named resource Group.
type AccessRule struct {
	// ID is assigned by the repository on insert.
	ID        string
	Resources []string
	Users     []string
	Group     string
}

// ResourceGroup is a named, reusable list of resource names.
type ResourceGroup struct {
	Name      string
	Resources []string
}
