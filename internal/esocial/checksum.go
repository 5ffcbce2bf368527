package esocial

import "strings"

// Check-digit algorithms for the Brazilian identifiers carried in eSocial
// payloads. Digits are validated after stripping formatting characters.

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// ValidCPF validates an 11-digit natural-person registry number
func ValidCPF(value string) bool {
	cpf := onlyDigits(value)
	if len(cpf) != 11 || allSame(cpf) {
		return false
	}

	// First check digit
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(cpf[i]-'0') * (10 - i)
	}
	rest := 11 - (sum % 11)
	digit1 := rest
	if rest > 9 {
		digit1 = 0
	}
	if digit1 != int(cpf[9]-'0') {
		return false
	}

	// Second check digit
	sum = 0
	for i := 0; i < 10; i++ {
		sum += int(cpf[i]-'0') * (11 - i)
	}
	rest = 11 - (sum % 11)
	digit2 := rest
	if rest > 9 {
		digit2 = 0
	}
	return digit2 == int(cpf[10]-'0')
}

// ValidCNPJ validates a 14-digit legal-entity registry number
func ValidCNPJ(value string) bool {
	cnpj := onlyDigits(value)
	if len(cnpj) != 14 || allSame(cnpj) {
		return false
	}

	// First check digit
	sum := 0
	weight := 5
	for i := 0; i < 12; i++ {
		sum += int(cnpj[i]-'0') * weight
		if weight == 2 {
			weight = 9
		} else {
			weight--
		}
	}
	rest := sum % 11
	digit1 := 0
	if rest >= 2 {
		digit1 = 11 - rest
	}
	if digit1 != int(cnpj[12]-'0') {
		return false
	}

	// Second check digit
	sum = 0
	weight = 6
	for i := 0; i < 13; i++ {
		sum += int(cnpj[i]-'0') * weight
		if weight == 2 {
			weight = 9
		} else {
			weight--
		}
	}
	rest = sum % 11
	digit2 := 0
	if rest >= 2 {
		digit2 = 11 - rest
	}
	return digit2 == int(cnpj[13]-'0')
}

// ValidNIS validates an 11-digit social-integration (PIS/NIS) number
func ValidNIS(value string) bool {
	nis := onlyDigits(value)
	if len(nis) != 11 {
		return false
	}

	weights := []int{3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i := 0; i < 10; i++ {
		sum += int(nis[i]-'0') * weights[i]
	}
	rest := sum % 11
	digit := 0
	if rest >= 2 {
		digit = 11 - rest
	}
	return digit == int(nis[10]-'0')
}
