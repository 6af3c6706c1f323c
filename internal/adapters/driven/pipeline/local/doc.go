// Package local implements the document pipeline against local services:
// text extraction from the downloaded file, fixed-size chunking, optional
// embedding generation and persistence into the document store.
//
// The pipeline is staged so an interrupted document can resume from the
// stage it reached, reloading persisted intermediate state instead of
// redoing completed work.
package local
