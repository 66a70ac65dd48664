//go:build !screenrec_platform_recorder

package recorder

// DefaultVariant is the encode stage used when configuration leaves it unset.
const DefaultVariant = VariantEncoder
