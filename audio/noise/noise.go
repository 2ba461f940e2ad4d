// Package noise 生成白噪音播放器使用的噪声帧
package noise

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

type Color string

const (
	White Color = "white"
	Pink  Color = "pink"
	Brown Color = "brown"
)

// ParseColor 解析配置中的噪声颜色，空字符串视为白噪音
func ParseColor(s string) (Color, error) {
	switch c := Color(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return White, nil
	case White, Pink, Brown:
		return c, nil
	default:
		return "", fmt.Errorf("unknown noise color %q", s)
	}
}

// Generator 非并发安全，调用方自行加锁
type Generator struct {
	color  Color
	volume float64
	rng    *rand.Rand

	b0, b1, b2 float64 // 粉红噪声滤波状态
	last       float64 // 褐噪声积分状态
}

func NewGenerator(color Color, volume float64, seed uint64) *Generator {
	g := &Generator{
		color: color,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	g.SetVolume(volume)
	return g
}

// SetVolume 音量取值 0..1
func (g *Generator) SetVolume(v float64) {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	g.volume = v
}

func (g *Generator) Volume() float64 { return g.volume }

func (g *Generator) Color() Color { return g.color }

// Fill 用交错排列的 16 位样本填满 buf
func (g *Generator) Fill(buf []int16) {
	for i := range buf {
		buf[i] = int16(clamp(g.next()*g.volume) * 32767)
	}
}

func (g *Generator) next() float64 {
	white := g.rng.Float64()*2 - 1
	switch g.color {
	case Pink:
		g.b0 = 0.99765*g.b0 + white*0.0990460
		g.b1 = 0.96300*g.b1 + white*0.2965164
		g.b2 = 0.57000*g.b2 + white*1.0526913
		return (g.b0 + g.b1 + g.b2 + white*0.1848) * 0.2
	case Brown:
		g.last = (g.last + 0.02*white) / 1.02
		return g.last * 3.5
	default:
		return white
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
