package catalog

import "github.com/shopspring/decimal"

func text(name string) Column {
	return Column{Name: name, Kind: KindString, Default: ""}
}

func textOr(name, def string) Column {
	return Column{Name: name, Kind: KindString, Default: def}
}

func nullableText(name string) Column {
	return Column{Name: name, Kind: KindString}
}

func integer(name string) Column {
	return Column{Name: name, Kind: KindInt, Default: int64(0)}
}

func money(name string) Column {
	return Column{Name: name, Kind: KindDecimal, Scale: 2, Default: decimal.Zero}
}

func quantity(name string) Column {
	return Column{Name: name, Kind: KindDecimal, Scale: 2, Default: decimal.NewFromInt(1)}
}

func flag(name string, def bool) Column {
	return Column{Name: name, Kind: KindBool, Default: def}
}

func date(name string) Column {
	return Column{Name: name, Kind: KindDate}
}

func datetime(name string) Column {
	return Column{Name: name, Kind: KindDateTime}
}

func file(name string) Column {
	return Column{Name: name, Kind: KindFile}
}

func owns(column, target string) ForeignKey {
	return ForeignKey{Column: column, Target: target, Edge: Owns}
}

func requires(column, target string) ForeignKey {
	return ForeignKey{Column: column, Target: target, Edge: References}
}

func optional(column, target string) ForeignKey {
	return ForeignKey{Column: column, Target: target, Optional: true, Edge: References}
}

// Workshop returns the catalog of a workshop tenant in creation order.
func Workshop() *Catalog {
	return New(
		&Entity{
			Key:        "marcas",
			Columns:    []Column{text("nombre"), text("pais")},
			NaturalKey: []string{"nombre"},
		},
		&Entity{
			Key:         "modelos",
			Columns:     []Column{text("nombre"), textOr("tipo", "auto")},
			ForeignKeys: []ForeignKey{owns("marca_id", "marcas")},
			NaturalKey:  []string{"marca_id", "nombre"},
		},
		&Entity{
			Key:        "areas",
			Columns:    []Column{text("nombre"), text("descripcion")},
			NaturalKey: []string{"nombre"},
		},
		&Entity{
			Key:        "cargos",
			Columns:    []Column{text("nombre"), text("descripcion"), money("sueldo_base")},
			NaturalKey: []string{"nombre"},
		},
		&Entity{
			Key: "proveedores",
			Columns: []Column{
				text("nombre"), nullableText("ruc"), text("telefono"), text("email"), text("direccion"),
			},
			NaturalKey: []string{"nombre"},
		},
		&Entity{
			Key:        "categorias_item",
			Columns:    []Column{text("nombre"), text("descripcion")},
			NaturalKey: []string{"nombre"},
		},
		&Entity{
			Key: "items",
			Columns: []Column{
				text("codigo"), text("nombre"), text("descripcion"), textOr("tipo", "repuesto"),
				money("precio_compra"), money("precio_venta"), integer("stock"), integer("stock_minimo"),
				file("imagen"), flag("activo", true),
			},
			ForeignKeys: []ForeignKey{
				optional("categoria_id", "categorias_item"),
				optional("proveedor_id", "proveedores"),
			},
			NaturalKey: []string{"codigo"},
		},
		&Entity{
			Key: "clientes",
			Columns: []Column{
				text("ruc"), text("nombre"), textOr("tipo_documento", "DNI"), text("telefono"),
				text("email"), text("direccion"), datetime("fecha_registro"),
			},
			NaturalKey: []string{"ruc"},
		},
		&Entity{
			Key: "vehiculos",
			Columns: []Column{
				text("placa"), integer("anio"), text("color"), nullableText("vin"), integer("kilometraje"), file("foto"),
			},
			ForeignKeys: []ForeignKey{
				optional("cliente_id", "clientes"),
				optional("marca_id", "marcas"),
				optional("modelo_id", "modelos"),
			},
			NaturalKey: []string{"placa"},
		},
		&Entity{
			Key: "empleados",
			Columns: []Column{
				text("numero_documento"), text("nombres"), text("apellidos"), text("telefono"), text("email"),
				date("fecha_ingreso"), money("sueldo"), flag("activo", true), file("foto"),
			},
			ForeignKeys: []ForeignKey{
				optional("cargo_id", "cargos"),
				optional("area_id", "areas"),
				optional("usuario_id", Users),
			},
			NaturalKey: []string{"numero_documento"},
		},
		&Entity{
			Key: "ordenes_trabajo",
			Columns: []Column{
				datetime("fecha_ingreso"), datetime("fecha_entrega"), textOr("estado", "pendiente"),
				integer("kilometraje"), text("observaciones"), money("total"),
			},
			ForeignKeys: []ForeignKey{
				requires("vehiculo_id", "vehiculos"),
				optional("cliente_id", "clientes"),
				optional("area_id", "areas"),
				optional("responsable_id", "empleados"),
			},
			Totals: []Total{{Column: "total", Child: "detalles_orden", ChildColumn: "subtotal", ChildFK: "orden_id"}},
		},
		&Entity{
			Key: "detalles_orden",
			Columns: []Column{
				text("descripcion"), quantity("cantidad"), money("precio_unitario"), money("subtotal"),
			},
			ForeignKeys: []ForeignKey{
				owns("orden_id", "ordenes_trabajo"),
				optional("item_id", "items"),
			},
		},
		&Entity{
			Key: "tareas_orden",
			Columns: []Column{
				text("descripcion"), textOr("estado", "pendiente"), datetime("fecha_inicio"), datetime("fecha_fin"),
			},
			ForeignKeys: []ForeignKey{
				owns("orden_id", "ordenes_trabajo"),
				optional("empleado_id", "empleados"),
			},
		},
		&Entity{
			Key:     "notas_orden",
			Columns: []Column{text("contenido"), datetime("fecha"), file("imagen")},
			ForeignKeys: []ForeignKey{
				owns("orden_id", "ordenes_trabajo"),
				optional("autor_id", Users),
			},
		},
		&Entity{
			Key:     "asignaciones_tecnico",
			Columns: []Column{datetime("fecha_asignacion"), textOr("rol", "tecnico")},
			ForeignKeys: []ForeignKey{
				owns("orden_id", "ordenes_trabajo"),
				optional("empleado_id", "empleados"),
			},
		},
		&Entity{
			Key: "inspecciones",
			Columns: []Column{
				datetime("fecha"), integer("kilometraje"), text("nivel_combustible"), text("observaciones"), file("foto"),
			},
			ForeignKeys: []ForeignKey{
				owns("vehiculo_id", "vehiculos"),
				optional("orden_id", "ordenes_trabajo"),
				optional("empleado_id", "empleados"),
			},
		},
		&Entity{
			Key: "pruebas_ruta",
			Columns: []Column{
				datetime("fecha"), integer("kilometraje_inicial"), integer("kilometraje_final"),
				text("resultado"), flag("aprobada", false),
			},
			ForeignKeys: []ForeignKey{
				owns("orden_id", "ordenes_trabajo"),
				optional("empleado_id", "empleados"),
			},
		},
		&Entity{
			Key:     "citas",
			Columns: []Column{datetime("fecha"), text("motivo"), textOr("estado", "programada")},
			ForeignKeys: []ForeignKey{
				optional("cliente_id", "clientes"),
				optional("vehiculo_id", "vehiculos"),
				optional("empleado_id", "empleados"),
			},
		},
		&Entity{
			Key:         "pagos",
			Columns:     []Column{money("monto"), datetime("fecha"), textOr("metodo", "efectivo"), text("referencia")},
			ForeignKeys: []ForeignKey{owns("orden_id", "ordenes_trabajo")},
		},
		&Entity{
			Key: "facturas",
			Columns: []Column{
				text("numero"), date("fecha"), money("igv"), money("total"), textOr("estado", "emitida"),
			},
			ForeignKeys: []ForeignKey{
				optional("cliente_id", "clientes"),
				optional("orden_id", "ordenes_trabajo"),
			},
			Totals: []Total{{Column: "total", Child: "detalles_factura", ChildColumn: "subtotal", ChildFK: "factura_id"}},
		},
		&Entity{
			Key: "detalles_factura",
			Columns: []Column{
				text("descripcion"), quantity("cantidad"), money("precio_unitario"), money("subtotal"),
			},
			ForeignKeys: []ForeignKey{
				owns("factura_id", "facturas"),
				optional("item_id", "items"),
			},
		},
		&Entity{
			Key: "compras",
			Columns: []Column{
				date("fecha"), text("numero_comprobante"), textOr("estado", "registrada"), money("total"),
			},
			ForeignKeys: []ForeignKey{owns("proveedor_id", "proveedores")},
			Totals:      []Total{{Column: "total", Child: "detalles_compra", ChildColumn: "subtotal", ChildFK: "compra_id"}},
		},
		&Entity{
			Key:     "detalles_compra",
			Columns: []Column{quantity("cantidad"), money("costo_unitario"), money("subtotal")},
			ForeignKeys: []ForeignKey{
				owns("compra_id", "compras"),
				requires("item_id", "items"),
			},
		},
		&Entity{
			Key: "movimientos_inventario",
			Columns: []Column{
				textOr("tipo", "entrada"), quantity("cantidad"), datetime("fecha"), text("motivo"),
			},
			ForeignKeys: []ForeignKey{
				owns("item_id", "items"),
				optional("orden_id", "ordenes_trabajo"),
			},
		},
		&Entity{
			Key: "nominas",
			Columns: []Column{
				text("periodo"), date("fecha_pago"), money("sueldo_base"), money("bonificaciones"),
				money("descuentos"), money("neto"),
			},
			ForeignKeys: []ForeignKey{owns("empleado_id", "empleados")},
		},
	)
}
