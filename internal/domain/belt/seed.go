package belt

// DefaultDefinitions returns the academy curriculum used when no catalog is
// stored yet: the adult ranks WHITE..RED and the kids ranks GREY..GREEN, whose
// last rank continues into BLUE.
func DefaultDefinitions() []Definition {
	adult := func(code, name, color string, rank, maxDegrees int, req Requirements) Definition {
		return Definition{
			Code: code, Name: name, ColorHex: color, Rank: rank,
			Category: CategoryAdult, MaxDegrees: maxDegrees, Active: true,
			Requirements: req,
		}
	}
	kids := func(code, name, color string, rank int) Definition {
		return Definition{
			Code: code, Name: name, ColorHex: color, Rank: rank,
			Category: CategoryKids, MaxDegrees: DefaultMaxDegrees, Active: true,
			Requirements: Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 12},
		}
	}

	green := kids("GREEN", "Green", "#008000", 4)
	green.PromotesTo = "BLUE"

	return []Definition{
		adult("WHITE", "White", "#FFFFFF", 1, DefaultMaxDegrees, Requirements{ClassesPerDegree: 20, MinMonthsInBelt: 12}),
		adult("BLUE", "Blue", "#0000FF", 2, DefaultMaxDegrees, Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 24}),
		adult("PURPLE", "Purple", "#800080", 3, DefaultMaxDegrees, Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 24}),
		adult("BROWN", "Brown", "#8B4513", 4, DefaultMaxDegrees, Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 24}),
		adult("BLACK", "Black", "#000000", 5, 6, Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 24, DegreeByTime: true, MonthsPerDegree: 36}),
		adult("CORAL", "Coral", "#FF7F50", 6, 6, Requirements{ClassesPerDegree: 40, MinMonthsInBelt: 84}),
		adult("RED", "Red", "#FF0000", 7, 0, Requirements{}),
		kids("GREY", "Grey", "#808080", 1),
		kids("YELLOW", "Yellow", "#FFFF00", 2),
		kids("ORANGE", "Orange", "#FFA500", 3),
		green,
	}
}

// DefaultCatalog builds a catalog from DefaultDefinitions.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultDefinitions())
}
