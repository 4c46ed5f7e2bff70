package irsxml

import "github.com/grantscope/grantscope/internal/normalize"

// parse990PF extracts officers, Part XV grants paid, Part II
// investment holdings, and the revenue/expense summary.
func parse990PF(root *node, f *Filing, q *qualityBuilder) {
	form := root.findDeep("IRS990PF")
	if form == nil {
		return
	}

	for _, row := range form.all("OfficerDirTrstKeyEmplGrp") {
		name := row.strAny("PersonNm", "NamePerson")
		if name == "" {
			name = businessName(row.first("BusinessName"))
		}
		if name == "" {
			q.recordError("officer row missing name")
			continue
		}
		hours, ok := row.num("AverageHrsPerWkDevotedToPosRt")
		q.recordField(ok, "officer hours")
		comp, ok := row.num("CompensationAmt")
		q.recordField(ok, "officer compensation")
		title := row.strAny("TitleTxt", "Title")
		f.Officers = append(f.Officers, newOfficer(name, title, hours, comp,
			titleIsOfficer(title), titleIsDirector(title)))
	}
	q.count("officer", len(f.Officers))

	// Part XV: grants and contributions paid during the year.
	for _, row := range form.all("GrantOrContributionPdDurYrGrp") {
		g := Grant{TaxYear: f.TaxYear}
		g.RecipientRawName = row.strAny("RecipientPersonNm", "RecipientNm")
		if g.RecipientRawName == "" {
			g.RecipientRawName = businessName(row.first("RecipientBusinessName"))
		}
		if g.RecipientRawName == "" {
			q.recordError("part XV row missing recipient name")
			continue
		}
		g.RecipientCanonicalName = normalize.OrgName(g.RecipientRawName)
		if ein, ok := normalize.EIN(row.str("RecipientEIN")); ok {
			g.RecipientEIN = ein
		}
		amt, ok := row.num("Amt")
		q.recordField(ok, "part XV amount")
		g.Amount = amt
		g.Purpose = row.strAny("GrantOrContributionPurposeTxt", "PurposeOfGrantTxt")
		if st := row.str("RecipientUSAddress", "StateAbbreviationCd"); normalize.IsState(st) {
			g.RecipientState = st
		}
		f.Grants = append(f.Grants, g)
	}
	q.count("grant", len(f.Grants))

	// Part II itemized holdings.
	for _, row := range form.all("InvestmentsCorpStockGrp") {
		inv := Investment{Description: row.strAny("Desc", "StockNm", "Description")}
		book, ok := row.num("EOYBookValueAmt")
		q.recordField(ok, "investment book value")
		fmv, ok := row.num("EOYFMVAmt")
		q.recordField(ok, "investment market value")
		inv.BookValue, inv.MarketValue = book, fmv
		if inv.Description == "" && book == 0 && fmv == 0 {
			continue
		}
		f.Holdings = append(f.Holdings, inv)
	}
	q.count("investment", len(f.Holdings))

	fin := &f.Financial
	fin.TotalRevenue = q.amount(form, "TotalRevAndExpnssAmt", "TotalRevenueAmt")
	fin.TotalExpenses = q.amount(form, "TotalExpensesRevAndExpnssAmt", "TotalExpensesAmt")
	fin.TotalAssets = q.amount(form, "TotalAssetsEOYAmt", "FMVAssetsEOYAmt")
	fin.NetAssets = q.amount(form, "TotNetAstOrFundBalancesEOYAmt", "NetAssetsOrFundBalancesEOYAmt")
	fin.Contributions = q.amount(form, "ContriRcvdRevAndExpnssAmt")
	q.financial(fin)

	// 990-PF has no Part VI policy checkboxes; governance stays empty
	// and its completeness category reflects that.
	q.governanceSeen(false)
}

func titleIsOfficer(title string) bool {
	role := normalize.Role(normalize.RoleInput{Title: title})
	return role == normalize.RoleExecutive
}

func titleIsDirector(title string) bool {
	role := normalize.Role(normalize.RoleInput{Title: title})
	return role == normalize.RoleBoard
}
