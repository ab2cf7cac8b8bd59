package ml

// PredictionRequest maps feature names to rainfall values in millimetres.
type PredictionRequest map[string]float64

// QuickRequest spreads an annual total evenly over the twelve months. The
// seasonal aggregates are two, three and four times the monthly mean.
func QuickRequest(annual float64) PredictionRequest {
	avg := annual / 12
	req := make(PredictionRequest, 16)
	for _, m := range MonthColumns {
		req[m] = avg
	}
	req[JanFebColumn] = avg * 2
	req[MarMayColumn] = avg * 3
	req[JunSepColumn] = avg * 4
	req[AnnualColumn] = annual
	return req
}

// DetailedRequest builds a request from monthly values. Seasonal aggregates
// are summed from the months and ANNUAL is the sum of all twelve months.
// Months absent from the input count as zero.
func DetailedRequest(months map[string]float64) PredictionRequest {
	req := make(PredictionRequest, 16)
	var annual float64
	for _, m := range MonthColumns {
		v := months[m]
		req[m] = v
		annual += v
	}
	req[JanFebColumn] = SumMonths(req, "JAN", "FEB")
	req[MarMayColumn] = SumMonths(req, "MAR", "APR", "MAY")
	req[JunSepColumn] = SumMonths(req, "JUN", "JUL", "AUG", "SEP")
	req[AnnualColumn] = annual
	return req
}

// SumMonths adds up the named entries of a request.
func SumMonths(req PredictionRequest, months ...string) float64 {
	var total float64
	for _, m := range months {
		total += req[m]
	}
	return total
}

// MonthlyTotal is the sum of a record's twelve months.
func (r RainfallRecord) MonthlyTotal() float64 {
	var total float64
	for _, v := range r.Months {
		total += v
	}
	return total
}
