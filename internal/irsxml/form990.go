package irsxml

import "github.com/grantscope/grantscope/internal/normalize"

// parse990 extracts officers (Part VII Section A), Schedule I grants,
// financial summary (Part I/VIII/IX/X) and governance flags (Part VI).
func parse990(root *node, f *Filing, q *qualityBuilder) {
	form := root.findDeep("IRS990")
	if form == nil {
		return
	}

	for _, row := range form.all("Form990PartVIISectionAGrp") {
		name := row.strAny("PersonNm", "NamePerson")
		if name == "" {
			name = businessName(row.first("BusinessName"))
		}
		if name == "" {
			q.recordError("officer row missing name")
			continue
		}
		hours, ok := row.num("AverageHoursPerWeekRt")
		q.recordField(ok, "officer hours")
		comp, ok := row.num("ReportableCompFromOrgAmt")
		q.recordField(ok, "officer compensation")
		f.Officers = append(f.Officers, newOfficer(
			name,
			row.strAny("TitleTxt", "Title"),
			hours, comp,
			row.flag("OfficerInd"),
			row.flag("IndividualTrusteeOrDirectorInd"),
		))
	}
	q.count("officer", len(f.Officers))

	parseScheduleI(root, f, q)

	fin := &f.Financial
	fin.TotalRevenue = q.amount(form, "CYTotalRevenueAmt", "TotalRevenueAmt")
	fin.TotalExpenses = q.amount(form, "CYTotalExpensesAmt", "TotalExpensesAmt")
	fin.TotalAssets = q.amount(form, "TotalAssetsEOYAmt")
	fin.NetAssets = q.amount(form, "NetAssetsOrFundBalancesEOYAmt")
	fin.Contributions = q.amount(form, "CYContributionsGrantsAmt", "ContributionsGrantsAmt")
	fin.ProgramExpenses = q.amount(form, "TotalProgramServiceExpensesAmt")
	fin.AdminExpenses = q.amount(form, "TotalManagementAndGeneralAmt")
	fin.FundraisingExpense = q.amount(form, "CYTotalFundraisingExpenseAmt", "TotalFundraisingAmt")
	q.financial(fin)

	gov := &f.Governance
	gov.ConflictOfInterestPolicy = form.flag("ConflictOfInterestPolicyInd")
	gov.WhistleblowerPolicy = form.flag("WhistleblowerPolicyInd")
	gov.DocumentRetentionPolicy = form.flag("DocumentRetentionPolicyInd")
	gov.MinutesDocumented = form.flag("MinutesOfGoverningBodyInd")
	q.governanceSeen(form.has("ConflictOfInterestPolicyInd") || form.has("WhistleblowerPolicyInd") ||
		form.has("DocumentRetentionPolicyInd") || form.has("MinutesOfGoverningBodyInd"))
}

// parseScheduleI reads grant recipient rows from Schedule I.
func parseScheduleI(root *node, f *Filing, q *qualityBuilder) {
	sched := root.findDeep("IRS990ScheduleI")
	if sched == nil {
		return
	}
	for _, row := range sched.all("RecipientTable") {
		g := Grant{TaxYear: f.TaxYear}
		g.RecipientRawName = businessName(row.first("RecipientBusinessName"))
		if g.RecipientRawName == "" {
			g.RecipientRawName = row.str("RecipientNm")
		}
		if g.RecipientRawName == "" {
			q.recordError("schedule I row missing recipient name")
			continue
		}
		g.RecipientCanonicalName = normalize.OrgName(g.RecipientRawName)
		if ein, ok := normalize.EIN(row.strAny("RecipientEIN", "EINOfRecipient")); ok {
			g.RecipientEIN = ein
		}
		amt, ok := row.num("CashGrantAmt")
		q.recordField(ok, "schedule I amount")
		g.Amount = amt
		g.Purpose = row.strAny("PurposeOfGrantTxt", "GrantPurposeTxt")
		if st := row.str("USAddress", "StateAbbreviationCd"); normalize.IsState(st) {
			g.RecipientState = st
		}
		f.Grants = append(f.Grants, g)
	}
	q.count("grant", len(f.Grants))
}
