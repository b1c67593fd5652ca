// Package ui holds the color themes shared by primectl's line output and its
// watch dashboard.
package ui
