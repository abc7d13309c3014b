// Package viz renders stored runs for the terminal and for image files.
//
//   - [Styles]: lipgloss styles derived from a [Theme]
//   - [RenderRun]: run summary, cavity table and fault reports
//   - [PlotSeries]: asciigraph line plots of profile columns
//   - [SavePNG]: the same plots through gonum/plot
//   - [Canvas]: braille canvas, used by [PhasePortrait] to draw the exit
//     ellipses of a run and its reference
package viz
