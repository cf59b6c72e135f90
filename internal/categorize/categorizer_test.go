package categorize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testDefaults() map[string]string {
	return map[string]string{
		"hacienda_canarias": "fiscal",
		"gobcan":            "autonomico",
		"seguridad_social":  "laboral",
		"ayto_santacruz":    "municipal",
	}
}

func TestCategorize_FiscalSignals(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	got := c.Categorize("Modelo 200 Impuesto de Sociedades", "/tributos/modelo200.pdf", "hacienda_canarias", "PDF")
	require.Equal(t, "fiscal", got)
}

func TestCategorize_LaboralSignals(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	got := c.Categorize("Solicitud de alta de autonomo", "/afiliacion/alta.pdf", "seguridad_social", "PDF")
	require.Equal(t, "laboral", got)
}

func TestCategorize_NoSignalsFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	got := c.Categorize("Documento adjunto", "/descargas/adjunto.pdf", "hacienda_canarias", "PDF")
	require.Equal(t, General, got)
}

func TestCategorize_TieFallsBackToInstitutionDefault(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	// "licencia" scores 3 for municipal; "impuesto" scores 3 for fiscal.
	got := c.Categorize("Impuesto sobre licencia", "/docs", "hacienda_canarias", "PDF")
	require.Equal(t, "fiscal", got)

	got = c.Categorize("Impuesto sobre licencia", "/docs", "ayto_santacruz", "PDF")
	require.Equal(t, "municipal", got)
}

func TestCategorize_TieWithoutMatchingDefaultIsGeneral(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	// Tie between fiscal and municipal; laboral default is not in the tied set.
	got := c.Categorize("Impuesto sobre licencia", "/docs", "seguridad_social", "PDF")
	require.Equal(t, General, got)
}

func TestCategorize_AccentInsensitive(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	plain := c.Categorize("Declaracion de liquidacion", "", "hacienda_canarias", "PDF")
	accented := c.Categorize("Declaración de liquidación", "", "hacienda_canarias", "PDF")
	require.Equal(t, plain, accented)
	require.Equal(t, "fiscal", accented)
}

func TestCategorize_Deterministic(t *testing.T) {
	t.Parallel()

	c := New(testDefaults())
	first := c.Categorize("Subvencion para empresas de Canarias", "/ayudas/convocatoria.pdf", "gobcan", "PDF")
	for range 50 {
		require.Equal(t, first, c.Categorize("Subvencion para empresas de Canarias", "/ayudas/convocatoria.pdf", "gobcan", "PDF"))
	}
}

func TestCategorize_EmptyInput(t *testing.T) {
	t.Parallel()

	c := New(nil)
	require.Equal(t, General, c.Categorize("", "", "hacienda_canarias", ""))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "guia de tramites", Normalize("Guía de Trámites"))
	require.Equal(t, "cotizacion", Normalize("COTIZACIÓN"))
}
