package irsxml

// parse990EZ extracts the short-form officer list and financial
// summary. 990-EZ filers report no grant schedule or holdings detail.
func parse990EZ(root *node, f *Filing, q *qualityBuilder) {
	form := root.findDeep("IRS990EZ")
	if form == nil {
		return
	}

	for _, row := range form.all("OfficerDirectorTrusteeEmplGrp") {
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
	q.count("grant", 0)

	fin := &f.Financial
	fin.TotalRevenue = q.amount(form, "TotalRevenueAmt")
	fin.TotalExpenses = q.amount(form, "TotalExpensesAmt")
	fin.TotalAssets = q.amountAt(form, "Form990TotalAssetsGrp", "EOYAmt")
	fin.NetAssets = q.amount(form, "NetAssetsOrFundBalancesEOYAmt")
	fin.Contributions = q.amount(form, "ContributionsGiftsGrantsEtcAmt")
	q.financial(fin)
	q.governanceSeen(false)
}
