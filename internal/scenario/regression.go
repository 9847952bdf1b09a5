package scenario

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// singular values below rankCutoff * largest are treated as zero.
const rankCutoff = 1e-12

// MonomialBasis lists exponent tuples of all monomials in dim variables with
// total degree <= order, ordered by degree with the constant term first.
func MonomialBasis(dim, order int) [][]int {
	var res [][]int
	cur := make([]int, dim)
	var walk func(pos, left int)
	walk = func(pos, left int) {
		if pos == dim {
			e := make([]int, dim)
			copy(e, cur)
			res = append(res, e)
			return
		}
		for d := 0; d <= left; d++ {
			cur[pos] = d
			walk(pos+1, left-d)
		}
		cur[pos] = 0
	}
	walk(0, order)
	sort.SliceStable(res, func(i, j int) bool { return degree(res[i]) < degree(res[j]) })
	return res
}

func degree(e []int) int {
	s := 0
	for _, p := range e {
		s += p
	}
	return s
}

func evalMonomial(exps []int, regressors []Value, i int) float64 {
	v := 1.0
	for k, p := range exps {
		x := regressors[k].get(i)
		for j := 0; j < p; j++ {
			v *= x
		}
	}
	return v
}

// ConditionalExpectation projects the regressand onto monomials of the
// stochastic regressors up to the given total degree. Paths where filter is
// false do not take part in the fit but still receive the fitted value. With
// no stochastic regressor the result is the plain expectation.
func ConditionalExpectation(regressand Value, regressors []Value, filter Predicate, order int) Value {
	if !regressand.Initialized() {
		return Value{}
	}
	n := regressand.n
	var stochastic []Value
	for _, r := range regressors {
		if !r.Initialized() || r.det {
			continue
		}
		checkSize("scenario.ConditionalExpectation", n, r.n)
		stochastic = append(stochastic, r)
	}
	if filter.Initialized() {
		checkSize("scenario.ConditionalExpectation", n, filter.n)
	}
	if len(stochastic) == 0 || regressand.det {
		return Expectation(regressand)
	}
	if order < 0 {
		order = 0
	}

	basis := MonomialBasis(len(stochastic), order)
	a := mat.NewDense(n, len(basis), nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if filter.Initialized() && !filter.get(i) {
			continue
		}
		for j, e := range basis {
			a.Set(i, j, evalMonomial(e, stochastic, i))
		}
		b.SetVec(i, regressand.get(i))
	}

	coeff := mat.NewVecDense(len(basis), nil)
	var svd mat.SVD
	if svd.Factorize(a, mat.SVDThin) {
		if rank := svd.Rank(rankCutoff); rank > 0 {
			svd.SolveVecTo(coeff, b, rank)
		}
	}

	out := make([]float64, n)
	for i := range out {
		s := 0.0
		for j, e := range basis {
			s += coeff.AtVec(j) * evalMonomial(e, stochastic, i)
		}
		out[i] = s
	}
	res := Value{n: n, data: out}
	res.time, res.hasTime = regressand.time, regressand.hasTime
	return res
}
