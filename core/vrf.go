package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// fieldModulus is the base-field prime of the curve the VRF operates over
// (Pallas' Fp). No Pasta-curve library exists in the retrieved example pack
// (see DESIGN.md), so the curve arithmetic below is expressed directly over
// math/big, the way the teacher's own consensus/reward math already leans on
// big.Int for modular arithmetic.
var fieldModulus, _ = new(big.Int).SetString("28948022309329048855892746252171976963363056481941560715954676764349967630337", 10)

// curveB is the short-Weierstrass constant in y^2 = x^3 + b.
var curveB = big.NewInt(5)

// slotFillNumerator/slotFillDenominator encode f = 3/4 from the
// Ouroboros-Samasika threshold formula.
var slotFillNumerator = big.NewInt(3)
var slotFillDenominator = big.NewInt(4)

// VrfMessage is the per-slot input hashed to a base-field scalar before
// hash-to-curve.
type VrfMessage struct {
	GlobalSlot     uint32
	EpochSeed      FieldElement
	DelegatorIndex uint32
}

func (m VrfMessage) bytes() []byte {
	buf := make([]byte, 0, 4+32+4)
	var slotBuf [4]byte
	binary.BigEndian.PutUint32(slotBuf[:], m.GlobalSlot)
	buf = append(buf, slotBuf[:]...)
	buf = append(buf, m.EpochSeed[:]...)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], m.DelegatorIndex)
	buf = append(buf, idxBuf[:]...)
	return buf
}

// VrfEvalInput is the full input set for one slot's leader-election evaluation.
type VrfEvalInput struct {
	ProducerSecret  *big.Int
	GlobalSlot      uint32
	EpochSeed       FieldElement
	DelegatorIndex  uint32
	DelegatedStake  uint64
	TotalCurrency   uint64
	Producer        PublicKey
	Delegatee       PublicKey
}

// VrfOutcome is the result of evaluating a slot: either SlotWon or SlotLost.
type VrfOutcome struct {
	Won        bool
	Slot       uint32
	Producer   PublicKey
	Delegatee  PublicKey
	VrfOutput  string
	Fractional *big.Rat
}

// curvePoint is an affine point on y^2 = x^3 + 5 over fieldModulus.
type curvePoint struct {
	X, Y *big.Int
}

// isQuadraticResidue reports whether v is a QR mod p (p is prime and odd).
func isQuadraticResidue(v, p *big.Int) bool {
	if v.Sign() == 0 {
		return true
	}
	exp := new(big.Int).Sub(p, big.NewInt(1))
	exp.Rsh(exp, 1)
	r := new(big.Int).Exp(v, exp, p)
	return r.Cmp(big.NewInt(1)) == 0
}

// modSqrt computes a square root of v mod p for p ≡ 3 (mod 4), which holds
// for the Pallas base-field prime used here.
func modSqrt(v, p *big.Int) *big.Int {
	exp := new(big.Int).Add(p, big.NewInt(1))
	exp.Rsh(exp, 2)
	return new(big.Int).Exp(v, exp, p)
}

// curveRhs evaluates x^3 + b mod p.
func curveRhs(x, p *big.Int) *big.Int {
	x3 := new(big.Int).Exp(x, big.NewInt(3), p)
	x3.Add(x3, curveB)
	x3.Mod(x3, p)
	return x3
}

// hashToCurve implements the shaped-conic hash-to-curve from spec §4.2,
// matching the reference's to_group: field-to-conic (project onto the conic
// through the fixed point (z, y0) with slope s through t), conic-to-s
// (v = conic_z/conic_y - u/2, y = conic_y), then s-to-v, trying
// x1=v, x2=-(u+v), x3=u+y^2 in order and picking the first whose x^3+5 is a
// quadratic residue.
func hashToCurve(t *big.Int) curvePoint {
	p := fieldModulus
	z, _ := new(big.Int).SetString("1AF731EC3CA2D77CC5D13EDC8C9A0A77978CB5F4FBFCC470B5983F5B6336DB69", 16)
	z.Mod(z, p)
	y0 := big.NewInt(1) // projection_point_y
	c := big.NewInt(3)  // conic_c
	uOver2 := big.NewInt(1)
	u := big.NewInt(2)

	// field to conic: ct = c*t; s = 2*((ct*y0)+z) / ((ct*t)+1)
	ct := new(big.Int).Mul(c, t)
	ct.Mod(ct, p)

	num := new(big.Int).Mul(ct, y0)
	num.Add(num, z)
	num.Mul(num, big.NewInt(2))
	num.Mod(num, p)

	den := new(big.Int).Mul(ct, t)
	den.Add(den, big.NewInt(1))
	den.Mod(den, p)

	s := new(big.Int)
	if den.Sign() != 0 {
		inv := new(big.Int).ModInverse(den, p)
		s.Mul(num, inv)
		s.Mod(s, p)
	}

	// conic_z = z - s; conic_y = y0 - s*t
	conicZ := new(big.Int).Sub(z, s)
	conicZ.Mod(conicZ, p)
	sT := new(big.Int).Mul(s, t)
	sT.Mod(sT, p)
	conicY := new(big.Int).Sub(y0, sT)
	conicY.Mod(conicY, p)

	// conic to s: v = conic_z/conic_y - u/2; y = conic_y
	v := new(big.Int)
	if conicY.Sign() != 0 {
		inv := new(big.Int).ModInverse(conicY, p)
		v.Mul(conicZ, inv)
		v.Mod(v, p)
	}
	v.Sub(v, uOver2)
	v.Mod(v, p)
	y := conicY

	// s to v
	x1 := new(big.Int).Set(v)
	x2 := new(big.Int).Neg(new(big.Int).Add(u, v))
	x2.Mod(x2, p)
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, p)
	x3 := new(big.Int).Add(u, y2)
	x3.Mod(x3, p)

	for _, x := range []*big.Int{x1, x2, x3} {
		rhs := curveRhs(x, p)
		if isQuadraticResidue(rhs, p) {
			yy := modSqrt(rhs, p)
			return curvePoint{X: x, Y: yy}
		}
	}
	// Fall through (should not happen: one of the three is always a QR for
	// a curve of this shape) — return the identity-adjacent point at x3.
	rhs := curveRhs(x3, p)
	return curvePoint{X: x3, Y: modSqrt(rhs, p)}
}

// scalarMul performs a constant-structure double-and-add scalar
// multiplication over the short-Weierstrass curve.
func scalarMul(k *big.Int, pt curvePoint) curvePoint {
	p := fieldModulus
	result := curvePoint{X: nil, Y: nil} // point at infinity
	addend := pt
	kk := new(big.Int).Set(k)
	kk.Mod(kk, p)
	for kk.Sign() > 0 {
		if kk.Bit(0) == 1 {
			result = pointAdd(result, addend, p)
		}
		addend = pointAdd(addend, addend, p)
		kk.Rsh(kk, 1)
	}
	return result
}

func pointAdd(a, b curvePoint, p *big.Int) curvePoint {
	if a.X == nil {
		return b
	}
	if b.X == nil {
		return a
	}
	if a.X.Cmp(b.X) == 0 {
		if a.Y.Cmp(b.Y) != 0 {
			return curvePoint{} // inverse pair -> infinity
		}
		// point doubling
		num := new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(a.X, big.NewInt(2), p))
		num.Mod(num, p)
		den := new(big.Int).Mul(big.NewInt(2), a.Y)
		den.Mod(den, p)
		inv := new(big.Int).ModInverse(den, p)
		lambda := new(big.Int).Mul(num, inv)
		lambda.Mod(lambda, p)
		return affineFromLambda(a, a, lambda, p)
	}
	num := new(big.Int).Sub(b.Y, a.Y)
	num.Mod(num, p)
	den := new(big.Int).Sub(b.X, a.X)
	den.Mod(den, p)
	inv := new(big.Int).ModInverse(den, p)
	lambda := new(big.Int).Mul(num, inv)
	lambda.Mod(lambda, p)
	return affineFromLambda(a, b, lambda, p)
}

func affineFromLambda(a, b curvePoint, lambda, p *big.Int) curvePoint {
	x3 := new(big.Int).Exp(lambda, big.NewInt(2), p)
	x3.Sub(x3, a.X)
	x3.Sub(x3, b.X)
	x3.Mod(x3, p)
	y3 := new(big.Int).Sub(a.X, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, a.Y)
	y3.Mod(y3, p)
	return curvePoint{X: x3, Y: y3}
}

// EvaluateVrf implements spec §4.2: it is total and never blocks.
func EvaluateVrf(in VrfEvalInput) VrfOutcome {
	msg := VrfMessage{GlobalSlot: in.GlobalSlot, EpochSeed: in.EpochSeed, DelegatorIndex: in.DelegatorIndex}
	mField := poseidonHashBytes("MinaVrfMessage", msg.bytes())
	m := mField.Big()
	m.Mod(m, fieldModulus)

	point := hashToCurve(m)
	s := scalarMul(in.ProducerSecret, point)

	var sBytes []byte
	if s.X != nil {
		sBytes = s.X.Bytes()
	}
	rField := poseidonHashBytes("MinaVrfOutput", msg.bytes(), sBytes)
	r := rField.Big()

	// truncate to 253 bits
	r.Mod(r, new(big.Int).Lsh(big.NewInt(1), 253))

	won, fractional := vrfThresholdCheck(r, in.DelegatedStake, in.TotalCurrency)
	if !won {
		return VrfOutcome{Won: false, Slot: in.GlobalSlot}
	}

	return VrfOutcome{
		Won:        true,
		Slot:       in.GlobalSlot,
		Producer:   in.Producer,
		Delegatee:  in.Delegatee,
		VrfOutput:  encodeVrfOutput(r),
		Fractional: fractional,
	}
}

// vrfThresholdCheck implements r/2^253 < 1-(1-f)^(stake/total). The
// comparison is exact over big.Rat; the threshold itself is approximated by
// powRat's 64-bit-precision big.Float series expansions.
func vrfThresholdCheck(r *big.Int, stake, total uint64) (bool, *big.Rat) {
	twoTo253 := new(big.Int).Lsh(big.NewInt(1), 253)
	fractional := new(big.Rat).SetFrac(r, twoTo253)

	if total == 0 {
		return false, fractional
	}

	// threshold = 1 - (1-f)^(stake/total); the fractional power is computed
	// as exp(ln(1-f)*stake/total) with big.Float Taylor series (see powRat).
	ratio := new(big.Rat).SetFrac(new(big.Int).SetUint64(stake), new(big.Int).SetUint64(total))
	oneMinusF := new(big.Rat).SetFrac(new(big.Int).Sub(slotFillDenominator, slotFillNumerator), slotFillDenominator)
	threshold := powRat(oneMinusF, ratio)
	threshold.Sub(big.NewRat(1, 1), threshold)

	return fractional.Cmp(threshold) < 0, fractional
}

// powRat raises base (a big.Rat in (0,1]) to a fractional exponent using a
// bounded-precision series expansion of exp(exponent * ln(base)).
func powRat(base, exponent *big.Rat) *big.Rat {
	const precision = 64
	const terms = 24

	baseF := new(big.Float).SetPrec(precision).SetRat(base)
	expF := new(big.Float).SetPrec(precision).SetRat(exponent)

	lnBase := bigFloatLn(baseF, precision)
	exp := new(big.Float).SetPrec(precision).Mul(lnBase, expF)

	result := bigFloatExp(exp, precision, terms)
	out, _ := result.Rat(nil)
	if out == nil {
		out = new(big.Rat)
	}
	return out
}

func bigFloatLn(x *big.Float, precision uint) *big.Float {
	// ln(x) via ln(1+y) series around y = x-1, valid for x in (0,2).
	one := big.NewFloat(1).SetPrec(precision)
	y := new(big.Float).SetPrec(precision).Sub(x, one)
	term := new(big.Float).SetPrec(precision).Set(y)
	sum := new(big.Float).SetPrec(precision)
	for n := 1; n <= 64; n++ {
		t := new(big.Float).SetPrec(precision).Quo(term, big.NewFloat(float64(n)))
		if n%2 == 0 {
			sum.Sub(sum, t)
		} else {
			sum.Add(sum, t)
		}
		term.Mul(term, y)
	}
	return sum
}

func bigFloatExp(x *big.Float, precision uint, terms int) *big.Float {
	sum := big.NewFloat(1).SetPrec(precision)
	term := big.NewFloat(1).SetPrec(precision)
	for n := 1; n <= terms; n++ {
		term.Mul(term, x)
		term.Quo(term, big.NewFloat(float64(n)))
		sum.Add(sum, term)
	}
	return sum
}

// encodeVrfOutput base58-encodes the truncated VRF scalar with the
// documented version prefix (0x15, 0x20) followed by a sha256d4 checksum
// (double SHA-256, first 4 bytes), per spec §4.2 step 6.
func encodeVrfOutput(r *big.Int) string {
	rBytes := r.Bytes()
	payload := make([]byte, 0, 2+32)
	payload = append(payload, 0x15, 0x20)
	padded := make([]byte, 32)
	copy(padded[32-len(rBytes):], rBytes)
	payload = append(payload, padded...)
	checksum := sha256d4(payload)
	payload = append(payload, checksum[:]...)
	return base58.Encode(payload)
}

// sha256d4 is double SHA-256 truncated to its first 4 bytes, the checksum
// scheme used by the VRF output's bs58 encoding.
func sha256d4(data []byte) [4]byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

func (o VrfOutcome) String() string {
	if !o.Won {
		return fmt.Sprintf("SlotLost(%d)", o.Slot)
	}
	return fmt.Sprintf("SlotWon(slot=%d, vrf_output=%s)", o.Slot, o.VrfOutput)
}
