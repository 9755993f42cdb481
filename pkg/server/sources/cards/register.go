package cards

import (
	"github.com/StrathCole/cardprice/pkg/server/sources"
)

func init() {
	sources.Register(NameGraded, NewGradedSourceFromConfig)
	sources.Register(NamePokemonTCG, NewPokemonTCGSourceFromConfig)
	sources.Register(NameTCGDB, NewTCGDBSourceFromConfig)
	sources.Register(NameEbay, NewEbaySourceFromConfig)
	sources.Register(NamePriceCharting, NewPriceChartingSourceFromConfig)
	sources.Register(NameAISearch, NewAISearchSourceFromConfig)
}
