package service

import (
	"math"

	"github.com/precise-hbr-server/internal/domain"
)

// CKD-EPI 2021 race-free creatinine equation constants.
const (
	ckdEPIMultiplier   = 142.0
	ckdEPIExponentHigh = -1.200
	ckdEPIAgeBase      = 0.9938
	ckdEPIFemaleFactor = 1.012
	ckdEPIKappaFemale  = 0.7
	ckdEPIKappaMale    = 0.9
	ckdEPIAlphaFemale  = -0.241
	ckdEPIAlphaMale    = -0.302
)

// CKDEPI2021 estimates eGFR in mL/min/1.73m2 from serum creatinine in mg/dL. It returns false
// when the inputs cannot produce a finite estimate.
func CKDEPI2021(creatinine float64, age int, gender domain.Gender) (float64, bool) {
	if creatinine <= 0 || age < 0 || !gender.IsValid() {
		return 0, false
	}

	kappa, alpha, sexFactor := ckdEPIKappaMale, ckdEPIAlphaMale, 1.0
	if gender == domain.FEMALE {
		kappa, alpha, sexFactor = ckdEPIKappaFemale, ckdEPIAlphaFemale, ckdEPIFemaleFactor
	}

	ratio := creatinine / kappa
	egfr := ckdEPIMultiplier *
		math.Pow(math.Min(ratio, 1), alpha) *
		math.Pow(math.Max(ratio, 1), ckdEPIExponentHigh) *
		math.Pow(ckdEPIAgeBase, float64(age)) *
		sexFactor

	if math.IsNaN(egfr) || math.IsInf(egfr, 0) {
		return 0, false
	}
	return egfr, true
}
