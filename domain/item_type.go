package domain

// ItemType identifies what a cart line or order item sells.
type ItemType string

const (
	ItemTypeDigitalFile     ItemType = "digital_file"
	ItemTypeSubscription    ItemType = "subscription"
	ItemTypeDigitalProduct  ItemType = "digital_product"
	ItemTypeCourse          ItemType = "course"
	ItemTypeWalletTopUp     ItemType = "wallet_topup"
	ItemTypePhysicalProduct ItemType = "physical_product"
	ItemTypeServiceBooking  ItemType = "service_booking"
)

var allItemTypes = []ItemType{
	ItemTypeDigitalFile,
	ItemTypeSubscription,
	ItemTypeDigitalProduct,
	ItemTypeCourse,
	ItemTypeWalletTopUp,
	ItemTypePhysicalProduct,
	ItemTypeServiceBooking,
}

// ItemTypes returns every known item type.
func ItemTypes() []ItemType {
	out := make([]ItemType, len(allItemTypes))
	copy(out, allItemTypes)
	return out
}

func (t ItemType) Valid() bool {
	for _, known := range allItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsExclusive reports whether the type forms its own cart family.
// Wallet top-ups can sit next to anything.
func (t ItemType) IsExclusive() bool {
	return t.Valid() && t != ItemTypeWalletTopUp
}

// TracksStock reports whether the type draws from a finite pool
// (warehouse stock, single-use keys, booking slots).
func (t ItemType) TracksStock() bool {
	switch t {
	case ItemTypePhysicalProduct, ItemTypeDigitalProduct, ItemTypeServiceBooking:
		return true
	default:
		return false
	}
}

func (t ItemType) RequiresShipping() bool {
	return t == ItemTypePhysicalProduct
}

// IsDigital reports whether the item is delivered electronically after payment.
func (t ItemType) IsDigital() bool {
	switch t {
	case ItemTypeDigitalFile, ItemTypeSubscription, ItemTypeDigitalProduct, ItemTypeCourse:
		return true
	default:
		return false
	}
}

func (t ItemType) String() string {
	return string(t)
}
