package codec

import (
	"fmt"
	"math/big"
	"time"
)

// Rational 有理数，用于表示时间基
type Rational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// NewRational 创建时间基，例如 NewRational(1, 90000)
func NewRational(num, den int64) Rational {
	return Rational{Num: num, Den: den}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Valid 分子分母均为正数
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float 转为浮点数
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Seconds 将 v 个时间基单位换算为秒
func (r Rational) Seconds(v int64) float64 {
	return float64(v) * r.Float()
}

// Duration 将 v 个时间基单位换算为 time.Duration
func (r Rational) Duration(v int64) time.Duration {
	return time.Duration(Rescale(v, r, Rational{Num: 1, Den: int64(time.Second)}))
}

// Rescale 将 v 从时间基 from 换算到 to，就近取整，0.5 远离零
// 中间结果使用大整数，避免 v*num*den 溢出
func Rescale(v int64, from, to Rational) int64 {
	if from == to {
		return v
	}
	if !from.Valid() || !to.Valid() {
		return v
	}
	n := new(big.Int).Mul(big.NewInt(v), big.NewInt(from.Num))
	n.Mul(n, big.NewInt(to.Den))
	d := new(big.Int).Mul(big.NewInt(from.Den), big.NewInt(to.Num))

	q, m := new(big.Int).QuoRem(n, d, new(big.Int))
	// |2m| >= d 时进位
	m2 := new(big.Int).Abs(m)
	m2.Lsh(m2, 1)
	if m2.Cmp(d) >= 0 {
		if n.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}
