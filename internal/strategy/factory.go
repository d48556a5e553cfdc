package strategy

import "fmt"

// New builds an instance of cfg.Kind. Parameters are decoded over the kind
// defaults and validated.
func New(cfg Config, deps Deps) (Strategy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidConfig)
	}
	cfg.Symbol = normalizeSymbol(cfg.Symbol)

	var (
		s   Strategy
		err error
	)
	switch cfg.Kind {
	case KindGrid:
		s, err = newGrid(cfg, deps)
	case KindMomentum:
		s, err = newMomentum(cfg, deps)
	case KindAccumulation:
		s, err = newAccumulation(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: unsupported strategy kind %q", ErrInvalidConfig, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the identity fields and decodes the parameters without
// building an instance.
func Validate(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if normalizeSymbol(cfg.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	var err error
	switch cfg.Kind {
	case KindGrid:
		_, err = decodeParams(defaultGridParams(), cfg.Params)
	case KindMomentum:
		_, err = decodeParams(defaultMomentumParams(), cfg.Params)
	case KindAccumulation:
		_, err = decodeParams(defaultAccumulationParams(), cfg.Params)
	default:
		err = fmt.Errorf("%w: unsupported strategy kind %q", ErrInvalidConfig, cfg.Kind)
	}
	return err
}

// DecodeGridParams decodes raw grid parameters over the defaults.
func DecodeGridParams(raw []byte) (GridParams, error) {
	return decodeParams(defaultGridParams(), raw)
}

// DecodeMomentumParams decodes raw momentum parameters over the defaults.
func DecodeMomentumParams(raw []byte) (MomentumParams, error) {
	return decodeParams(defaultMomentumParams(), raw)
}

// DecodeAccumulationParams decodes raw accumulation parameters over the defaults.
func DecodeAccumulationParams(raw []byte) (AccumulationParams, error) {
	return decodeParams(defaultAccumulationParams(), raw)
}
