//go:build release

package core

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var fatalStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("9")).
	Padding(1, 2)

func reportFatal(err error) {
	fmt.Fprintln(os.Stderr, fatalStyle.Render("The application has to close.\n\n"+err.Error()))
	LogFatal(err.Error())
}
