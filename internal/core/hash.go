package core

import (
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/provider"
)

// IdentityHash is the stable identity of a listing within a job. Sources
// whose native id is reused for changed offers also hash the display price,
// so a price change surfaces as a new listing.
func IdentityHash(meta provider.Metadata, l model.Listing) string {
	if meta.PriceInIdentity {
		return provider.BuildHash(meta.ID, l.NativeID, l.Price)
	}
	return provider.BuildHash(meta.ID, l.NativeID)
}
