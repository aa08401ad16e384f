package app

import (
	"strings"
)

// URLBuilder turns storage paths and link ids into public URLs.
type URLBuilder struct {
	RootDomain string
}

func NewURLBuilder(rootDomain string) URLBuilder {
	return URLBuilder{RootDomain: strings.TrimRight(rootDomain, "/")}
}

func (u URLBuilder) Media(storagePath string) string {
	return u.RootDomain + "/media/images/" + strings.TrimLeft(storagePath, "/")
}

func (u URLBuilder) ExpirationLink(linkID string) string {
	return u.RootDomain + "/images/expiration_link/" + linkID + "/"
}

func (u URLBuilder) Variant(img Image) Variant {
	return Variant{Size: img.Size(), URL: u.Media(img.StoragePath)}
}
