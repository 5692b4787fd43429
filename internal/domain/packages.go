package domain

// Package is one purchasable restoration bundle. PhotoCount drives the
// image-count invariant at job creation.
type Package struct {
	ID         string
	Name       string
	PhotoCount int
	PriceCents int
}

var packages = []Package{
	{ID: "1-photo", Name: "Basic Package", PhotoCount: 1, PriceCents: 999},
	{ID: "3-photos", Name: "Family Package", PhotoCount: 3, PriceCents: 2499},
	{ID: "5-photos", Name: "Memories Package", PhotoCount: 5, PriceCents: 3999},
	{ID: "10-photos", Name: "Heritage Package", PhotoCount: 10, PriceCents: 6999},
}

func PackageByID(id string) (Package, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}
