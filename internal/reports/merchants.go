package reports

import "spend-dashboard/internal/pipeline"

// Merchants ranks users and merchants over completed transactions.
type Merchants struct {
	TopUsers             pipeline.Table `json:"top_users"`
	TopMerchantsBySpend  pipeline.Table `json:"top_merchants_by_spend"`
	TopMerchantsByCount  pipeline.Table `json:"top_merchants_by_count"`
	TopMerchantsByUsers  pipeline.Table `json:"top_merchants_by_users"`
	TopCategoriesBySpend pipeline.Table `json:"top_categories_by_spend"`
}

func BuildMerchants(seg pipeline.Segments, p pipeline.Params) Merchants {
	measures := spendMeasures(p.Entity)
	byMerchant := pipeline.Aggregate(seg.Completed, []pipeline.Dimension{pipeline.ByMerchant}, measures...).Present()

	return Merchants{
		TopUsers: byMeasure(seg.Completed, pipeline.ByEntity(p.Entity), measureSpend, p.TopUsers,
			pipeline.Sum(measureSpend, pipeline.AmountUSD), pipeline.Count(measureTx)),
		TopMerchantsBySpend:  byMerchant.SortBy(measureSpend, true).Head(p.TopMerchants),
		TopMerchantsByCount:  byMerchant.SortBy(measureTx, true).Head(p.TopMerchants),
		TopMerchantsByUsers:  byMerchant.SortBy(measureUsers, true).Head(p.TopMerchants),
		TopCategoriesBySpend: byMeasure(seg.Completed, pipeline.ByCategory, measureSpend, p.TopMerchants, measures...),
	}
}
