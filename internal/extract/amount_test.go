package extract

import (
	"strings"
	"testing"
)

const lauraMessage = "Soy Laura, me interesa Andes, necesito crédito, gano 40 mil, no tengo deudas, tengo 200 mil de enganche, mañana a las 10am"

func TestAmount(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		concept   Concept
		want      float64
		wantFound bool
		negated   bool
	}{
		{"thousands word", "gano 40 mil al mes", Income, 40_000, true, false},
		{"millions word", "mi sueldo es de 2 millones", Income, 2_000_000, true, false},
		{"million singular with accent", "ingreso 1 millón mensual", Income, 1_000_000, true, false},
		{"decimal millions", "mis ingresos son 1.5 millones", Income, 1_500_000, true, false},
		{"thousands separator", "gano $35,000 pesos", Income, 35_000, true, false},
		{"k suffix", "salario 25k", Income, 25_000, true, false},
		{"plain figure", "mi salario es 18500", Income, 18_500, true, false},
		{"word amount", "mi ingreso es un millon", Income, 1_000_000, true, false},
		{"no keyword is unknown", "me interesa la casa de dos pisos", Income, 0, false, false},
		{"debt negation", "no tengo deudas", Debt, 0, true, true},
		{"debt negation ignores other numbers", "no tengo deudas pero gano 30 mil y debo 5 mil", Debt, 0, true, true},
		{"debt sin", "sin deudas, gracias", Debt, 0, true, true},
		{"debt ninguna", "deudas: ninguna", Debt, 0, true, true},
		{"debt connector", "tengo 5 mil de deuda y 20 mil de enganche", Debt, 5_000, true, false},
		{"down payment connector", "tengo 5 mil de deuda y 20 mil de enganche", DownPayment, 20_000, true, false},
		{"down payment forward", "enganche de 150 mil, gano 40 mil", DownPayment, 150_000, true, false},
		{"income after down payment", "enganche de 150 mil, gano 40 mil", Income, 40_000, true, false},
		{"savings participle", "tengo 300 mil ahorrados", DownPayment, 300_000, true, false},
		{"down payment negation", "sin enganche por ahora", DownPayment, 0, true, true},
		{"clause break stops window", "tengo ahorros, y mañana a las 10am voy", DownPayment, 0, false, false},
		{"clock time is not a figure", "enganche lo vemos mañana a las 10", DownPayment, 0, false, false},
		{"first figure after keyword wins", "gano 20 mil o 25 mil", Income, 20_000, true, false},
		{"laura income", lauraMessage, Income, 40_000, true, false},
		{"laura debt", lauraMessage, Debt, 0, true, true},
		{"laura down payment", lauraMessage, DownPayment, 200_000, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Amount(tt.text, tt.concept)
			if got.Found != tt.wantFound {
				t.Fatalf("found = %v, want %v (value %v)", got.Found, tt.wantFound, got.Value)
			}
			if got.Value != tt.want {
				t.Fatalf("value = %v, want %v", got.Value, tt.want)
			}
			if got.Negated != tt.negated {
				t.Fatalf("negated = %v, want %v", got.Negated, tt.negated)
			}
		})
	}
}

func TestAmountMagnitudeTieBreak(t *testing.T) {
	for _, n := range []string{"1", "2", "3", "10", "25"} {
		got := Amount("mi ingreso es de "+n+" millones", Income)
		want := Amount("mi ingreso es de "+n+" mil", Income)
		if !got.Found || !want.Found {
			t.Fatalf("expected both figures found for %s", n)
		}
		if got.Value != want.Value*1000 {
			t.Fatalf("%s millones = %v, expected 1000x of %v", n, got.Value, want.Value)
		}
	}
}

func TestAmountNeverSplitsLiteralAtWindowEdge(t *testing.T) {
	got := Amount("gano al mes aproximadamente como unos 1500000 pesos", Income)
	if !got.Found || got.Value != 1_500_000 {
		t.Fatalf("expected 1500000, got %+v", got)
	}

	for pad := 25; pad <= 40; pad++ {
		text := "gano " + strings.Repeat("x", pad) + " 1500000 pesos"
		got := Amount(text, Income)
		if got.Found && got.Value != 1_500_000 {
			t.Fatalf("pad %d: partial literal read as %v", pad, got.Value)
		}
	}
}

func TestAmountResultPtr(t *testing.T) {
	if (AmountResult{}).Ptr() != nil {
		t.Fatal("expected nil pointer for unknown amount")
	}
	p := AmountResult{Value: 0, Found: true, Negated: true}.Ptr()
	if p == nil || *p != 0 {
		t.Fatalf("expected pointer to zero, got %v", p)
	}
}

func TestConceptString(t *testing.T) {
	if Income.String() != "income" || Debt.String() != "debt" || DownPayment.String() != "down_payment" {
		t.Fatal("unexpected concept names")
	}
	if Concept(99).String() != "unknown" {
		t.Fatal("expected unknown concept name")
	}
	if got := Amount("gano 10 mil", Concept(99)); got.Found {
		t.Fatal("unknown concept must never match")
	}
}
