package asm

// NelderMeadSource is a hand-written Nelder-Mead simplex search over
// vector registers 0..2, used to seed evolution runs. Register 0 holds the
// best point after each iteration.
const NelderMeadSource = `
################################
# sort the first 3 vectors
################################
label 30

# v0 < v1?
vload 0
vless 1
iftrue_down 10
# swap v0 <-> v1
vswap 1
label 10
vstore 0

# v0 < v2 ?
vless 2
iftrue_down 10
vswap 2
vstore 0
label 10

# v1 < v2 ?
vload 1
vless 2
iftrue_down 10
vswap 2
vstore 1
label 10

#############################################################
# center of the best two, kept in v3
vload 0
fload_value 0.5
vmerge 1
vstore 3

#############################################################
# reflect the worst point through the center into v4
fload_value 2
vmerge 2
vless 0
vstore 4
iffalse_down 10              # reflection is not the best

# reflection is the best: try to extend it
fload_value 2
vmerge 3
vless 4
iffalse_down 20
vstore 2
jump_up 30
label 20
# extension was worse, keep the reflection
vload 4
vstore 2
jump_up 30

label 10 # reflection is not the best
vload 4
vless 1
iffalse_down 10
# better than the second worst
vstore 2
jump_up 30

label 10 # reflection is bad
vload 4
vless 2
iffalse_down 10
vswap 2
vstore 4

label 10 # contract toward the center
vload 3
fload_value 0.5
vmerge 2
vless 2
iffalse_down 10
vstore 2
jump_up 30

label 10 # shrink everything toward the best
vload 0
fload_value 0.5
vmerge 1
vstore 1
vload 0
vmerge 2
vstore 2
jump_up 30
`

// NelderMead returns the assembled Nelder-Mead genome.
func NelderMead() []byte {
	return MustAssemble(NelderMeadSource)
}
